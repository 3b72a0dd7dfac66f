package linker

import (
	"runtime"

	"github.com/sigmaSd/mold/pkg/utils"
)

type ContextArgs struct {
	Output       string
	Emulation    MachineType
	LibraryPaths []string

	// GCSections enables the -gc-sections dead-code elimination pass.
	GCSections bool
	// PrintGCSections enables one diagnostic line per section killed by
	// the sweeper (-print-gc-sections).
	PrintGCSections bool
	// Entry is the name of the program's entry symbol; it and every name
	// in Undefined are roots for the gc-sections mark phase.
	Entry string
	// Undefined is the -u/-undefined name list: symbols the user wants
	// pulled in and kept alive regardless of whether anything else
	// references them.
	Undefined []string
	// NumWorkers bounds the gc-sections marker's worker pool. Zero means
	// "use GOMAXPROCS".
	NumWorkers int
}

/*
 * @Args: 我们感兴趣的一些需要记下来的命令行选项参数值
 * @Buf
 * @Ehdr
 * @Shdr
 * @Phdr
 * @Got
 * @TpAddr
 * @OutputSections: 输出文件中需要产生的 sections
 *                  这些 sections 的创建参考 GetOutputSection()
 *                  在遍历所有输入的 obj 文件的过程中，会触发该函数
 *                  main
 *                  -> ReadInputFiles
 *                     -> ReadFile
 *                        -> CreateObjectFile
 *                           -> Parse
 *                              -> InitializeSections
 *                                 -> NewInputSection
 *                                    -> GetOutputSection
 * @Chunks
 * @Objs: 所有输入文件中的 obj 文件，包括 .o 文件以及 .a 文件中 extracted 的 .o 文件
 * @SymbolMap: 所有输入文件的 GLOBAL 符号。
 *             这些符号的添加动作参考 GetSymbolByName() 函数
 *             在遍历所有输入的 obj 文件的过程中，会触发该函数
  *                  main
 *                  -> ReadInputFiles
 *                     -> ReadFile
 *                        -> CreateObjectFile
 *                           -> Parse
 *                              -> InitializeSymbols
 *                                 -> GetSymbolByName
 * @MergedSections: 用于保存 Merged 的 Sections
 */
type Context struct {
	Args ContextArgs
	Buf  []byte

	Ehdr *OutputEhdr
	Shdr *OutputShdr
	Phdr *OutputPhdr
	Got  *GotSection

	TpAddr uint64

	OutputSections []*OutputSection

	Chunks []Chunker

	Objs           []*ObjectFile
	SymbolMap      map[string]*Symbol
	MergedSections []*MergedSection

	// Diagnostics is the synchronized line sink used by -print-gc-sections
	// and other driver-level warnings.
	Diagnostics *Diagnostics
	// Stats holds the linker's running counters, e.g. the number of
	// sections killed by -gc-sections.
	Stats Stats
}

// Stats collects the linker's concurrency-safe running counters.
type Stats struct {
	GCSections *utils.Counter
}

func NewContext() *Context {
	return &Context{
		Args: ContextArgs{
			Output:    "a.out",
			Emulation: MachineTypeNone,
		},
		SymbolMap:   make(map[string]*Symbol),
		Diagnostics: NewDiagnostics(),
		Stats: Stats{
			GCSections: utils.NewCounter("garbage_sections"),
		},
	}
}

// GCWorkers returns the configured gc-sections worker count, defaulting to
// GOMAXPROCS when unset.
func (ctx *Context) GCWorkers() int {
	if ctx.Args.NumWorkers > 0 {
		return ctx.Args.NumWorkers
	}
	return runtime.GOMAXPROCS(0)
}
