package linker

import (
	"debug/elf"

	"github.com/sigmaSd/mold/pkg/utils"
)

// GotSection is the output file's .got chunk, holding one 8-byte slot per
// thread-pointer-relative symbol that needed one (NeedsGotTp).
type GotSection struct {
	Chunk
	GotTpSyms []*Symbol
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotSection) AddGotTpSymbol(sym *Symbol) {
	sym.GotTpIdx = int32(len(g.GotTpSyms))
	g.GotTpSyms = append(g.GotTpSyms, sym)
	g.Shdr.Size += 8
}

func (g *GotSection) CopyBuf(ctx *Context) {
	base := ctx.Buf[g.Shdr.Offset:]
	for idx, sym := range g.GotTpSyms {
		utils.Write(base[idx*8:], sym.GetAddr()-ctx.TpAddr)
	}
}
