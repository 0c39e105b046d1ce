package elfedit

import (
	"bytes"
	"encoding/binary"

	"github.com/cod-build/cod/internal/codutil"
)

// Objconv lifts an i386 ET_REL object to x86_64: preserve the section table
// and contents, rewrite the ELF header to class 64 / EM_AMD64 / the new
// section-header entry size, rewrite SYMTAB to the 64-bit layout, and
// convert every SHT_REL section to SHT_RELA by reading
// each relocation's in-place addend out of the target section, zeroing it,
// and emitting an explicit r_addend. It is not a general 32-to-64 ELF
// transcoder — only the subset this build system actually produces.
func Objconv(data []byte) ([]byte, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if f.Class != Class32 {
		return nil, codutil.NewFormatError("objconv: input is not ELF32")
	}
	if f.Machine != EM_386 {
		return nil, codutil.NewFormatError("objconv: input machine is not EM_386")
	}
	if f.Type != ET_REL {
		return nil, codutil.NewFormatError("objconv: input is not ET_REL")
	}

	out := make([]Section, len(f.Sections))
	for i, sh := range f.Sections {
		switch {
		case sh.Type == SHT_NULL, sh.Type == SHT_PROGBITS, sh.Type == SHT_STRTAB,
			sh.Type == SHT_LLVM_ADDRSIG, sh.Size == 0:
			out[i] = sh // bit-copied verbatim

		case sh.Type == SHT_NOBITS:
			out[i] = sh // occupies no file bytes; Data stays nil

		case sh.Type == SHT_SYMTAB:
			converted, err := convertSymtab(sh)
			if err != nil {
				return nil, err
			}
			out[i] = converted

		case sh.Type == SHT_REL:
			if int(sh.Info) >= i {
				return nil, codutil.NewFormatError(
					"objconv: relocation section %q targets section %d, which has not been emitted yet (ordinal check)",
					sh.Name, sh.Info)
			}
			converted, err := convertRelToRela(sh, &out[sh.Info])
			if err != nil {
				return nil, err
			}
			out[i] = converted

		default:
			// Unrecognized section type: carry it through unchanged rather
			// than fail the build over, e.g., a vendor-specific note section.
			out[i] = sh
		}
		out[i].EntSize = newEntSize(sh.Type, sh.EntSize)
	}

	return serialize64(out, f.shstrndx)
}

func newEntSize(typ uint32, old uint64) uint64 {
	switch typ {
	case SHT_SYMTAB:
		return 24
	case SHT_REL: // now RELA
		return 24
	default:
		return old
	}
}

func convertSymtab(sh Section) (Section, error) {
	if sh.EntSize == 0 || len(sh.Data)%int(sh.EntSize) != 0 {
		return Section{}, codutil.NewFormatError("objconv: malformed SYMTAB %q", sh.Name)
	}
	count := len(sh.Data) / int(sh.EntSize)
	var buf bytes.Buffer
	for i := 0; i < count; i++ {
		var sym elf32Sym
		if err := readStruct(sh.Data[i*int(sh.EntSize):(i+1)*int(sh.EntSize)], &sym); err != nil {
			return Section{}, err
		}
		out := elf64Sym{
			Name:  sym.Name,
			Info:  sym.Info,
			Other: sym.Other,
			Shndx: sym.Shndx,
			Value: uint64(sym.Value),
			Size:  uint64(sym.Size),
		}
		binary.Write(&buf, binary.LittleEndian, &out)
	}
	sh.Data = buf.Bytes()
	sh.Size = uint64(buf.Len())
	sh.EntSize = 24
	return sh, nil
}

// convertRelToRela converts one SHT_REL section to SHT_RELA. target is the
// already-emitted output section the relocations apply to; its Data is
// mutated in place to zero out each addend that gets lifted into the
// explicit r_addend field.
func convertRelToRela(sh Section, target *Section) (Section, error) {
	if sh.EntSize == 0 || len(sh.Data)%int(sh.EntSize) != 0 {
		return Section{}, codutil.NewFormatError("objconv: malformed REL section %q", sh.Name)
	}
	count := len(sh.Data) / int(sh.EntSize)

	var buf bytes.Buffer
	for i := 0; i < count; i++ {
		var rel elf32Rel
		if err := readStruct(sh.Data[i*int(sh.EntSize):(i+1)*int(sh.EntSize)], &rel); err != nil {
			return Section{}, err
		}
		rtype := rel32Type(rel.Info)
		mapping, ok := relocMap[rtype]
		if !ok {
			return Section{}, codutil.NewFormatError("objconv: unsupported relocation type %d in %q", rtype, sh.Name)
		}

		addend, err := readAddend(target, uint64(rel.Offset), mapping)
		if err != nil {
			return Section{}, err
		}
		zeroAddend(target, uint64(rel.Offset), mapping.width)

		rela := elf64Rela{
			Offset: uint64(rel.Offset),
			Info:   rela64Info(rel32Sym(rel.Info), mapping.x86_64Type),
			Addend: addend,
		}
		binary.Write(&buf, binary.LittleEndian, &rela)
	}

	sh.Type = SHT_RELA
	sh.Data = buf.Bytes()
	sh.Size = uint64(buf.Len())
	sh.EntSize = 24
	return sh, nil
}

func readAddend(target *Section, offset uint64, m relocMapping) (int64, error) {
	if offset+uint64(m.width) > uint64(len(target.Data)) {
		return 0, codutil.NewFormatError("objconv: relocation offset %d out of bounds for target section %q", offset, target.Name)
	}
	raw := target.Data[offset : offset+uint64(m.width)]
	var u uint64
	for i := m.width - 1; i >= 0; i-- {
		u = u<<8 | uint64(raw[i])
	}
	if !m.signed {
		return int64(u), nil
	}
	// sign-extend from the relocation's byte width
	shift := uint(64 - 8*m.width)
	return int64(u<<shift) >> shift, nil
}

func zeroAddend(target *Section, offset uint64, width int) {
	for i := 0; i < width; i++ {
		target.Data[int(offset)+i] = 0
	}
}

// serialize64 lays out the converted sections sequentially after a 64-byte
// ELF64 header and appends the section-header table, producing a
// relocatable (ET_REL) x86_64 object with no program headers.
func serialize64(sections []Section, shstrndx int) ([]byte, error) {
	var body bytes.Buffer
	offsets := make([]uint64, len(sections))

	for i, sh := range sections {
		if sh.Type == SHT_NOBITS {
			offsets[i] = uint64(64 + body.Len())
			continue
		}
		if align := sh.AddrAlign; align > 1 {
			for uint64(body.Len())%align != 0 {
				body.WriteByte(0)
			}
		}
		offsets[i] = uint64(64 + body.Len())
		body.Write(sh.Data)
	}

	shoff := uint64(64 + body.Len())

	hdr := elf64Header{
		Ident:     elfIdent(Class64),
		Type:      ET_REL,
		Machine:   EM_AMD64,
		Version:   1,
		Shoff:     shoff,
		Ehsize:    64,
		Shentsize: shdr64Size,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(shstrndx),
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, &hdr)
	out.Write(body.Bytes())

	var shstrtab []byte
	if shstrndx >= 0 && shstrndx < len(sections) {
		shstrtab = sections[shstrndx].Data
	}
	for i, sh := range sections {
		var name uint32
		if sh.Name != "" {
			if idx := bytes.Index(shstrtab, append([]byte(sh.Name), 0)); idx >= 0 {
				name = uint32(idx)
			}
		}
		shdr := elf64Shdr{
			Name:      name,
			Type:      sh.Type,
			Flags:     sh.Flags,
			Addr:      sh.Addr,
			Offset:    offsets[i],
			Size:      sh.Size,
			Link:      sh.Link,
			Info:      sh.Info,
			Addralign: sh.AddrAlign,
			Entsize:   sh.EntSize,
		}
		if sh.Type == SHT_NOBITS {
			shdr.Offset = 0
		}
		binary.Write(&out, binary.LittleEndian, &shdr)
	}
	return out.Bytes(), nil
}

func elfIdent(class Class) [16]byte {
	var id [16]byte
	id[0], id[1], id[2], id[3] = 0x7f, 'E', 'L', 'F'
	id[4] = byte(class)
	id[5] = ELFDATA2LSB
	id[6] = 1 // EI_VERSION
	id[7] = ELFOSABI_SYSV
	return id
}
