package elfedit

import (
	"bytes"
	"encoding/binary"

	"github.com/cod-build/cod/internal/codutil"
)

const shdr32Size = 40
const shdr64Size = 64
const phdr32Size = 32
const phdr64Size = 56

func (f *File) loadSections32(data []byte, hdr elf32Header) error {
	if hdr.Shnum == 0 {
		return nil
	}
	raw := make([]elf32Shdr, hdr.Shnum)
	for i := range raw {
		off := int(hdr.Shoff) + i*int(hdr.Shentsize)
		if err := readStruct(data[off:off+shdr32Size], &raw[i]); err != nil {
			return err
		}
	}
	shstrtab, err := sectionBytes32(data, raw, int(hdr.Shstrndx))
	if err != nil {
		return err
	}
	f.Sections = make([]Section, len(raw))
	for i, sh := range raw {
		f.Sections[i] = Section{
			Name:      cstr(shstrtab, sh.Name),
			Type:      sh.Type,
			Flags:     uint64(sh.Flags),
			Addr:      uint64(sh.Addr),
			Offset:    uint64(sh.Offset),
			Size:      uint64(sh.Size),
			Link:      sh.Link,
			Info:      sh.Info,
			AddrAlign: uint64(sh.Addralign),
			EntSize:   uint64(sh.Entsize),
		}
		if sh.Type != SHT_NOBITS {
			f.Sections[i].Data = slice(data, uint64(sh.Offset), uint64(sh.Size))
		}
	}
	return nil
}

func (f *File) loadSections64(data []byte, hdr elf64Header) error {
	if hdr.Shnum == 0 {
		return nil
	}
	raw := make([]elf64Shdr, hdr.Shnum)
	for i := range raw {
		off := int(hdr.Shoff) + i*int(hdr.Shentsize)
		if err := readStruct(data[off:off+int(hdr.Shentsize)], &raw[i]); err != nil {
			return err
		}
	}
	shstrtab, err := sectionBytes64(data, raw, int(hdr.Shstrndx))
	if err != nil {
		return err
	}
	f.Sections = make([]Section, len(raw))
	for i, sh := range raw {
		f.Sections[i] = Section{
			Name:      cstr(shstrtab, sh.Name),
			Type:      sh.Type,
			Flags:     sh.Flags,
			Addr:      sh.Addr,
			Offset:    sh.Offset,
			Size:      sh.Size,
			Link:      sh.Link,
			Info:      sh.Info,
			AddrAlign: sh.Addralign,
			EntSize:   sh.Entsize,
		}
		if sh.Type != SHT_NOBITS {
			f.Sections[i].Data = slice(data, sh.Offset, sh.Size)
		}
	}
	return nil
}

func (f *File) loadSegments32(data []byte, hdr elf32Header) {
	for i := 0; i < int(hdr.Phnum); i++ {
		off := int(hdr.Phoff) + i*int(hdr.Phentsize)
		var ph elf32Phdr
		if readStruct(data[off:off+phdr32Size], &ph) != nil {
			continue
		}
		f.Segments = append(f.Segments, ProgramHeader{
			Type: ph.Type, Offset: uint64(ph.Offset), VAddr: uint64(ph.Vaddr),
			PAddr: uint64(ph.Paddr), FileSz: uint64(ph.Filesz), MemSz: uint64(ph.Memsz),
		})
	}
}

func (f *File) loadSegments64(data []byte, hdr elf64Header) {
	for i := 0; i < int(hdr.Phnum); i++ {
		off := int(hdr.Phoff) + i*int(hdr.Phentsize)
		var ph elf64Phdr
		if readStruct(data[off:off+phdr64Size], &ph) != nil {
			continue
		}
		f.Segments = append(f.Segments, ProgramHeader{
			Type: ph.Type, Offset: ph.Offset, VAddr: ph.Vaddr,
			PAddr: ph.Paddr, FileSz: ph.Filesz, MemSz: ph.Memsz,
		})
	}
}

func sectionBytes32(data []byte, secs []elf32Shdr, idx int) ([]byte, error) {
	if idx < 0 || idx >= len(secs) {
		return nil, codutil.NewFormatError("elf32: shstrndx %d out of range", idx)
	}
	sh := secs[idx]
	return slice(data, uint64(sh.Offset), uint64(sh.Size)), nil
}

func sectionBytes64(data []byte, secs []elf64Shdr, idx int) ([]byte, error) {
	if idx < 0 || idx >= len(secs) {
		return nil, codutil.NewFormatError("elf64: shstrndx %d out of range", idx)
	}
	sh := secs[idx]
	return slice(data, sh.Offset, sh.Size), nil
}

func slice(data []byte, off, size uint64) []byte {
	if off+size > uint64(len(data)) {
		return nil
	}
	out := make([]byte, size)
	copy(out, data[off:off+size])
	return out
}

func cstr(table []byte, off uint32) string {
	if int(off) >= len(table) {
		return ""
	}
	end := bytes.IndexByte(table[off:], 0)
	if end < 0 {
		return string(table[off:])
	}
	return string(table[off : int(off)+end])
}

// SectionByName finds the first section with the given name.
func (f *File) SectionByName(name string) (*Section, int) {
	for i := range f.Sections {
		if f.Sections[i].Name == name {
			return &f.Sections[i], i
		}
	}
	return nil, -1
}

func appendU32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.LittleEndian, v) }
func appendU64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.LittleEndian, v) }
