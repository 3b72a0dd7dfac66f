package linker

import "github.com/sigmaSd/mold/pkg/utils"

// OutputShdr is the output file's section header table chunk.
type OutputShdr struct {
	Chunk
}

func NewOutputShdr() *OutputShdr {
	o := &OutputShdr{Chunk: NewChunk()}
	o.Shdr.AddrAlign = 8
	return o
}

func (o *OutputShdr) UpdateShdr(ctx *Context) {
	n := int64(0)
	for _, chunk := range ctx.Chunks {
		if chunk.GetShndx() > 0 {
			n = chunk.GetShndx()
		}
	}
	o.Shdr.Size = uint64(n+1) * uint64(ShdrSize)
}

func (o *OutputShdr) CopyBuf(ctx *Context) {
	base := ctx.Buf[o.Shdr.Offset:]
	utils.Write(base, Shdr{})

	for _, chunk := range ctx.Chunks {
		if chunk.GetShndx() > 0 {
			utils.Write(base[chunk.GetShndx()*int64(ShdrSize):], *chunk.GetShdr())
		}
	}
}
