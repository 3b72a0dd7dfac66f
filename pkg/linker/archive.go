package linker

import (
	"strconv"
	"strings"

	"github.com/sigmaSd/mold/pkg/utils"
)

// GetSize parses the ASCII decimal size field of an ar(1) member header.
func (h *ArHeader) GetSize() int {
	n, err := strconv.Atoi(strings.TrimSpace(string(h.SizeText[:])))
	utils.MustNo(err)
	return n
}

// IsSymtab reports whether this member is the archive symbol table ("/").
func (h *ArHeader) IsSymtab() bool {
	return strings.TrimRight(string(h.Name[:]), " ") == "/"
}

// IsStrtab reports whether this member is the GNU extended name table
// ("//"), used when a member name is too long to fit in the fixed header.
func (h *ArHeader) IsStrtab() bool {
	return strings.TrimRight(string(h.Name[:]), " ") == "//"
}

// ReadName resolves this member's name, following the GNU "/offset"
// indirection into strtab when the name didn't fit inline.
func (h *ArHeader) ReadName(strtab []byte) string {
	name := strings.TrimRight(string(h.Name[:]), " ")
	if rest, ok := utils.RemovePrefix(name, "/"); ok {
		off, err := strconv.Atoi(rest)
		utils.MustNo(err)
		return ElfGetName(strtab, uint32(off))
	}
	return strings.TrimSuffix(name, "/")
}

// ReadArchiveMembers splits an ar(1) archive into its member files, skipping
// the symbol table and extended name table pseudo-members.
func ReadArchiveMembers(file *File) []*File {
	utils.Assert(GetFileType(file.Contents) == FileTypeArchive)

	// Skip the fixed 8-byte "!<arch>\n" magic.
	pos := 8

	var strtab []byte
	var files []*File
	for len(file.Contents)-pos > 1 {
		if pos%2 == 1 {
			pos++
		}

		hdr := utils.Read[ArHeader](file.Contents[pos:])
		dataStart := pos + ArHeaderSize
		size := hdr.GetSize()
		pos = dataStart + size
		contents := file.Contents[dataStart:pos]

		if hdr.IsSymtab() {
			continue
		}
		if hdr.IsStrtab() {
			strtab = contents
			continue
		}

		files = append(files, &File{
			Name:     hdr.ReadName(strtab),
			Contents: contents,
			Parent:   file,
		})
	}

	return files
}
