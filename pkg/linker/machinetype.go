package linker

import (
	"debug/elf"

	"github.com/sigmaSd/mold/pkg/utils"
)

type MachineType = uint8

const (
	MachineTypeNone    MachineType = iota
	MachineTypeRISCV64 MachineType = iota
)

// GetMachineTypeFromContents sniffs the machine type out of a raw object
// file's ELF header, used when the driver isn't told -m explicitly.
func GetMachineTypeFromContents(contents []byte) MachineType {
	if GetFileType(contents) != FileTypeObject {
		return MachineTypeNone
	}

	machine := elf.Machine(utils.Read[uint16](contents[18:]))
	if machine == elf.EM_RISCV && elf.Class(contents[elf.EI_CLASS]) == elf.ELFCLASS64 {
		return MachineTypeRISCV64
	}
	return MachineTypeNone
}

// CheckFileCompatibility aborts the link if file isn't built for the
// configured target emulation.
func CheckFileCompatibility(ctx *Context, file *File) {
	mt := GetMachineTypeFromContents(file.Contents)
	if mt != ctx.Args.Emulation {
		utils.Fatal(file.Name + ": incompatible file type")
	}
}

type MachineTypeStringer struct {
	MachineType
}

func (m MachineTypeStringer) String() string {
	switch m.MachineType {
	case MachineTypeRISCV64:
		return "riscv64"
	}
	utils.Assert(m.MachineType == MachineTypeNone)
	return ""
}
