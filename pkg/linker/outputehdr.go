package linker

import (
	"debug/elf"

	"github.com/sigmaSd/mold/pkg/utils"
)

// OutputEhdr is the output file's ELF header chunk. Writing the final
// executable image is outside this module's job (the driver only needs
// enough of the chunk pipeline alive to keep CreateSyntheticSections,
// SortOutputSections and the rest of passes.go coherent while exercising
// gc-sections); it fills in the header fields a real linker would need,
// but does not attempt e.g. dynamic-section bookkeeping.
type OutputEhdr struct {
	Chunk
}

func NewOutputEhdr() *OutputEhdr {
	o := &OutputEhdr{Chunk: NewChunk()}
	o.Shdr.Flags = uint64(elf.SHF_ALLOC)
	o.Shdr.Size = uint64(EhdrSize)
	o.Shdr.AddrAlign = 8
	return o
}

func (o *OutputEhdr) CopyBuf(ctx *Context) {
	var ehdr Ehdr
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)

	ehdr.Type = uint16(elf.ET_EXEC)
	ehdr.Machine = uint16(elf.EM_RISCV)
	ehdr.Version = uint32(elf.EV_CURRENT)
	ehdr.Entry = GetEntryAddress(ctx)
	ehdr.PhOff = ctx.Phdr.Shdr.Offset
	ehdr.ShOff = ctx.Shdr.Shdr.Offset
	ehdr.EhSize = uint16(EhdrSize)
	ehdr.PhEntSize = uint16(PhdrSize)
	ehdr.PhNum = uint16(ctx.Phdr.Shdr.Size) / uint16(PhdrSize)
	ehdr.ShEntSize = uint16(ShdrSize)
	ehdr.ShNum = uint16(ctx.Shdr.Shdr.Size) / uint16(ShdrSize)

	utils.Write(ctx.Buf[o.Shdr.Offset:], ehdr)
}

// GetEntryAddress resolves the entry point address: -e/-entry names a
// symbol looked up the same way gc-sections Scan C looks up -u names, and
// falls back to the start of .text when unset or unresolved.
func GetEntryAddress(ctx *Context) uint64 {
	if ctx.Args.Entry != "" {
		if sym, ok := ctx.SymbolMap[ctx.Args.Entry]; ok && sym.File != nil {
			return sym.GetAddr()
		}
	}

	for _, osec := range ctx.OutputSections {
		if osec.Name == ".text" {
			return osec.Shdr.Addr
		}
	}
	return 0
}
