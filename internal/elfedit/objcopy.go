package elfedit

import "github.com/cod-build/cod/internal/codutil"

// Objcopy flattens an ELF file to a raw binary image by replaying its
// PT_LOAD segments: for each PT_LOAD, copy p_filesz bytes from the input at
// p_offset to the output at p_paddr, then extend the output to
// p_paddr+p_memsz (zero-filling the BSS tail).
func Objcopy(data []byte) ([]byte, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}

	var maxEnd uint64
	for _, seg := range f.Segments {
		if seg.Type != PT_LOAD {
			continue
		}
		if end := seg.PAddr + seg.MemSz; end > maxEnd {
			maxEnd = end
		}
	}

	out := make([]byte, maxEnd)
	for _, seg := range f.Segments {
		if seg.Type != PT_LOAD {
			continue
		}
		if seg.Offset+seg.FileSz > uint64(len(data)) {
			return nil, codutil.NewFormatError("objcopy: PT_LOAD reads past end of input (offset=%d filesz=%d)", seg.Offset, seg.FileSz)
		}
		copy(out[seg.PAddr:seg.PAddr+seg.FileSz], data[seg.Offset:seg.Offset+seg.FileSz])
		// bytes in [FileSz, MemSz) are already zero from make([]byte, ...)
	}
	return out, nil
}
