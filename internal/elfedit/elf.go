// Package elfedit implements the narrow ELF32/64 subset this build system
// touches: reading just enough of the header/section/program-header tables
// to support two operations, objcopy (flatten to a raw binary by replaying
// PT_LOAD segments) and objconv (lift an i386 ET_REL object to x86_64 by
// widening every structure and converting REL relocations to RELA).
//
// This package does not use "debug/elf" for anything beyond borrowing its
// numeric constant values as a reference while hand-writing the same
// constants locally: debug/elf's types are read-only views unsuited to the
// in-place rewriting objconv performs (new symtab layout, freshly computed
// addends, a widened section-header table) — see DESIGN.md.
package elfedit

import (
	"bytes"
	"encoding/binary"

	"github.com/cod-build/cod/internal/codutil"
)

// Class identifies the word size of an ELF file (EI_CLASS, e_ident[4]).
type Class byte

const (
	ClassNone Class = 0
	Class32   Class = 1
	Class64   Class = 2
)

// Supported machine types: i386 objects going in, x86_64 objects coming
// out of objconv.
const (
	EM_386    = 3
	EM_AMD64  = 62
	ET_REL    = 1
	ELFDATA2LSB = 1
	ELFOSABI_SYSV = 0
)

// Section header types this package knows how to handle while copying or
// lifting a relocatable object.
const (
	SHT_NULL         = 0
	SHT_PROGBITS     = 1
	SHT_SYMTAB       = 2
	SHT_STRTAB       = 3
	SHT_RELA         = 4
	SHT_NOBITS       = 8
	SHT_REL          = 9
	SHT_LLVM_ADDRSIG = 0x6fff4c03
)

// i386 relocation types this package lifts, and their x86_64 counterparts.
// Byte width and signedness determine how the in-place addend is read back
// out of the target section before being zeroed and re-emitted explicitly.
const (
	R_386_32    = 1
	R_386_PC32  = 2
	R_386_16    = 20
	R_386_PC16  = 21
	R_386_8     = 22
	R_386_PC8   = 23

	R_X86_64_32   = 10
	R_X86_64_PC32 = 2
	R_X86_64_16   = 12
	R_X86_64_PC16 = 13
	R_X86_64_8    = 14
	R_X86_64_PC8  = 15
)

type relocMapping struct {
	x86_64Type uint32
	width      int
	signed     bool
}

var relocMap = map[uint32]relocMapping{
	R_386_32:   {R_X86_64_32, 4, false},
	R_386_PC32: {R_X86_64_PC32, 4, true},
	R_386_16:   {R_X86_64_16, 2, false},
	R_386_PC16: {R_X86_64_PC16, 2, true},
	R_386_8:    {R_X86_64_8, 1, false},
	R_386_PC8:  {R_X86_64_PC8, 1, true},
}

// File is a parsed ELF object: enough of the header and section table to
// support objcopy and objconv. Section/program-header contents are kept as
// raw byte slices; only the fields objconv must rewrite are decoded.
type File struct {
	Class   Class
	Machine uint16
	Type    uint16
	Entry   uint64

	Sections []Section
	Segments []ProgramHeader

	shstrndx int
	raw      []byte
}

// Section is one section-header-table entry plus its (possibly empty, for
// SHT_NOBITS) file contents.
type Section struct {
	Name      string
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
	Data      []byte
}

// ProgramHeader is one PT_* entry used by objcopy's flattening pass.
type ProgramHeader struct {
	Type   uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
}

const PT_LOAD = 1

// Parse reads an ELF32 or ELF64 object, detecting the word size from
// e_ident[EI_CLASS] at offset 4.
func Parse(data []byte) (*File, error) {
	if len(data) < 20 || data[0] != 0x7f || string(data[1:4]) != "ELF" {
		return nil, codutil.NewFormatError("elf: bad magic")
	}
	class := Class(data[4])
	switch class {
	case Class32:
		return parse32(data)
	case Class64:
		return parse64(data)
	default:
		return nil, codutil.NewFormatError("elf: unsupported EI_CLASS %d", data[4])
	}
}

func parse32(data []byte) (*File, error) {
	if len(data) < 52 {
		return nil, codutil.NewFormatError("elf32: header truncated")
	}
	var hdr elf32Header
	if err := readStruct(data[:52], &hdr); err != nil {
		return nil, err
	}
	f := &File{
		Class:    Class32,
		Machine:  hdr.Machine,
		Type:     hdr.Type,
		Entry:    uint64(hdr.Entry),
		shstrndx: int(hdr.Shstrndx),
		raw:      data,
	}
	if err := f.loadSections32(data, hdr); err != nil {
		return nil, err
	}
	f.loadSegments32(data, hdr)
	return f, nil
}

func parse64(data []byte) (*File, error) {
	if len(data) < 64 {
		return nil, codutil.NewFormatError("elf64: header truncated")
	}
	var hdr elf64Header
	if err := readStruct(data[:64], &hdr); err != nil {
		return nil, err
	}
	f := &File{
		Class:    Class64,
		Machine:  hdr.Machine,
		Type:     hdr.Type,
		Entry:    hdr.Entry,
		shstrndx: int(hdr.Shstrndx),
		raw:      data,
	}
	if err := f.loadSections64(data, hdr); err != nil {
		return nil, err
	}
	f.loadSegments64(data, hdr)
	return f, nil
}

func readStruct(b []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}
