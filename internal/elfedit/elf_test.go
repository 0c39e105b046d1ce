package elfedit

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildMinimalElf32(t *testing.T) []byte {
	t.Helper()

	// One PROGBITS section ".text", plus NULL and shstrtab.
	shstrtab := []byte{0}
	textNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".text\x00")...)
	shstrNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab\x00")...)

	text := []byte{0x90, 0x90, 0x90, 0x90}

	const ehdrSize = 52
	textOff := uint32(ehdrSize)
	shstrtabOff := textOff + uint32(len(text))
	shoff := shstrtabOff + uint32(len(shstrtab))

	var buf bytes.Buffer
	hdr := elf32Header{
		Type: ET_REL, Machine: EM_386, Version: 1,
		Shoff: shoff, Ehsize: ehdrSize, Shentsize: shdr32Size,
		Shnum: 3, Shstrndx: 2,
	}
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0})
	binary.Write(&buf, binary.LittleEndian, &hdr)
	buf.Write(text)
	buf.Write(shstrtab)

	null := elf32Shdr{}
	textSh := elf32Shdr{Name: textNameOff, Type: SHT_PROGBITS, Offset: textOff, Size: uint32(len(text)), Addralign: 1}
	shstrSh := elf32Shdr{Name: shstrNameOff, Type: SHT_STRTAB, Offset: shstrtabOff, Size: uint32(len(shstrtab)), Addralign: 1}
	binary.Write(&buf, binary.LittleEndian, &null)
	binary.Write(&buf, binary.LittleEndian, &textSh)
	binary.Write(&buf, binary.LittleEndian, &shstrSh)

	return buf.Bytes()
}

func TestParseELF32(t *testing.T) {
	data := buildMinimalElf32(t)
	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Class != Class32 {
		t.Fatalf("Class = %v, want Class32", f.Class)
	}
	if f.Machine != EM_386 {
		t.Fatalf("Machine = %d, want EM_386", f.Machine)
	}
	sh, idx := f.SectionByName(".text")
	if sh == nil {
		t.Fatalf("missing .text section")
	}
	if idx != 1 {
		t.Fatalf("idx = %d, want 1", idx)
	}
	if !bytes.Equal(sh.Data, []byte{0x90, 0x90, 0x90, 0x90}) {
		t.Fatalf("unexpected .text contents: %x", sh.Data)
	}
}

func TestObjconvProducesELF64(t *testing.T) {
	data := buildMinimalElf32(t)
	out, err := Objconv(data)
	if err != nil {
		t.Fatalf("Objconv: %v", err)
	}
	f, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Objconv output): %v", err)
	}
	if f.Class != Class64 {
		t.Fatalf("Class = %v, want Class64", f.Class)
	}
	if f.Machine != EM_AMD64 {
		t.Fatalf("Machine = %d, want EM_AMD64", f.Machine)
	}
	sh, _ := f.SectionByName(".text")
	if sh == nil || !bytes.Equal(sh.Data, []byte{0x90, 0x90, 0x90, 0x90}) {
		t.Fatalf(".text section not preserved across lift")
	}
}

func TestObjconvRejectsWrongMachine(t *testing.T) {
	data := buildMinimalElf32(t)
	data[18] = 0xFF // e_machine low byte: Ident(16) + Type(2) = offset 18
	if _, err := Objconv(data); err == nil {
		t.Fatalf("expected error for non-i386 input")
	}
}

func TestObjcopyFlattensPTLoad(t *testing.T) {
	const ehdrSize = 52
	const phdrSize = 32
	loadData := []byte{1, 2, 3, 4}

	textOff := uint32(ehdrSize + phdrSize)

	var buf bytes.Buffer
	hdr := elf32Header{
		Type: 2, Machine: EM_386, Version: 1,
		Phoff: ehdrSize, Ehsize: ehdrSize, Phentsize: phdrSize, Phnum: 1,
		Shoff: 0, Shentsize: shdr32Size, Shnum: 0, Shstrndx: 0,
	}
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0})
	binary.Write(&buf, binary.LittleEndian, &hdr)

	ph := elf32Phdr{Type: PT_LOAD, Offset: textOff, Vaddr: 0x1000, Paddr: 0x1000, Filesz: uint32(len(loadData)), Memsz: 8}
	binary.Write(&buf, binary.LittleEndian, &ph)
	buf.Write(loadData)

	out, err := Objcopy(buf.Bytes())
	if err != nil {
		t.Fatalf("Objcopy: %v", err)
	}
	if len(out) != 0x1000+8 {
		t.Fatalf("len(out) = %d, want %d", len(out), 0x1000+8)
	}
	if !bytes.Equal(out[0x1000:0x1000+4], loadData) {
		t.Fatalf("PT_LOAD contents not copied at p_paddr")
	}
	for _, b := range out[0x1000+4 : 0x1000+8] {
		if b != 0 {
			t.Fatalf("expected zero-filled BSS tail, got %x", out[0x1000+4:0x1000+8])
		}
	}
}
