package linker

import (
	"debug/elf"

	"github.com/sigmaSd/mold/pkg/utils"
)

// EhReloc is one relocation belonging to a CIE or FDE record, stripped
// down to the two fields the gc-sections marker actually needs: who it
// points at and the addend, which the marker ignores but keeps around for
// fidelity with the record it was read from.
type EhReloc struct {
	Sym    *Symbol
	Addend int64
}

// CieRecord is a Common Information Entry from .eh_frame. A CIE has no
// single owning InputSection (it's shared by every FDE that references
// it), so gc-sections Scan D roots whatever a CIE's own relocations point
// at directly, rather than waiting for a marker edge to reach it.
type CieRecord struct {
	Rels []EhReloc
}

// FdeRecord is a Frame Description Entry from .eh_frame, describing the
// unwind info for one function. Rels[0] always covers the FDE's own
// owning text section (the function itself) and is never followed as an
// outgoing edge during marking, since that would make every FDE a root by
// construction; Rels[1:] are the ones that propagate liveness onward (e.g.
// a personality routine or LSDA referenced from the FDE).
type FdeRecord struct {
	Rels []EhReloc
}

// ParseEhFrame walks this file's .eh_frame section, if it has one, and
// splits it into CIE and FDE records, partitioning the section's already
//-scanned relocation list between them by byte offset. It must run before
// SkipEhframeSections marks the section dead, since after that point its
// Contents/Rels are no longer meant to be inspected.
//
// .eh_frame is a sequence of variable-length records. Each record starts
// with a 4-byte little-endian length (not counting the length field
// itself; a length of 0 terminates the section), followed by a 4-byte
// "CIE pointer": zero for a CIE, otherwise the distance back from this
// field to the CIE it belongs to for an FDE.
func (o *ObjectFile) ParseEhFrame() {
	isec := o.findEhFrameSection()
	if isec == nil {
		return
	}

	rels := isec.GetRels()
	relIdx := 0
	nextRel := func(end uint64) []EhReloc {
		var out []EhReloc
		for relIdx < len(rels) && uint64(rels[relIdx].Offset) < end {
			r := rels[relIdx]
			out = append(out, EhReloc{
				Sym:    o.Symbols[r.Sym],
				Addend: r.Addend,
			})
			relIdx++
		}
		return out
	}

	data := isec.Contents
	offset := uint64(0)
	for offset+4 <= uint64(len(data)) {
		size := uint64(utils.Read[uint32](data[offset:]))
		if size == 0 {
			break
		}

		recStart := offset
		recEnd := offset + 4 + size
		if recEnd > uint64(len(data)) {
			break
		}

		id := utils.Read[uint32](data[offset+4:])
		recRels := nextRel(recEnd)
		// Drop whatever relocations landed before this record started;
		// a well-formed .eh_frame never has any, but a hand-built test
		// fixture might.
		for len(recRels) > 0 && uint64(rels[relIdx-len(recRels)].Offset) < recStart {
			recRels = recRels[1:]
		}

		if id == 0 {
			o.Cies = append(o.Cies, CieRecord{Rels: recRels})
		} else {
			// gc-sections' visit() assumes rels[0] is always the FDE's
			// back-reference to its own owning text section; assert that
			// here rather than let a malformed record silently fall
			// through visit()'s length guard.
			utils.Assert(len(recRels) >= 1)
			isec.Fdes = append(isec.Fdes, FdeRecord{Rels: recRels})
		}

		offset = recEnd
	}
}

func (o *ObjectFile) findEhFrameSection() *InputSection {
	for _, isec := range o.Sections {
		if isec != nil && isec.Name() == ".eh_frame" {
			return isec
		}
	}
	return nil
}

// ehFrameSectionType is the SHT_ value the driver's InitializeSections
// switch lets through for a normal .eh_frame section (SHT_PROGBITS, same
// as ordinary code/data), kept here only as documentation: there is no
// dedicated ELF section type for it.
const ehFrameSectionType = uint32(elf.SHT_PROGBITS)
