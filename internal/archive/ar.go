// Package archive implements the System-V and GNU-thin "ar" archive codec:
// parsing the armap symbol index, and writing deterministic thin archives
// for intermediate linkable object collections.
//
// Regular (non-thin) archives with embedded member content are written with
// github.com/blakesmith/ar, which already implements the 60-byte member
// header framing; this package adds the two things that library doesn't
// cover: GNU thin-archive members (which reference an external file instead
// of embedding content) and the "/"-named armap symbol-index member.
package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/cod-build/cod/internal/codutil"
)

const (
	globalMagic = "!<arch>\n"
	thinMagic   = "!<thin>\n"
	headerSize  = 60
)

// SymbolEntry is one (symbol, member) pair as returned by ParseArmap.
// MemberPath is repository-relative for thin archives (resolved through the
// string table, member "//") and the bare member name for regular archives.
type SymbolEntry struct {
	Symbol     string
	MemberPath string
}

// Member is a single archive entry: either embedded content (Data != nil)
// or a thin reference to an on-disk file (ExternalPath != "").
type Member struct {
	Name         string
	Data         []byte // nil for thin members
	ExternalPath string  // set for thin members; relative path stored in the archive
	Mode         os.FileMode
}

// ParseArmap reads the leading symbol-index member ("/") of an ar archive
// and returns its (symbol, member) pairs. For thin archives, the second
// member ("//", the GNU extended name table) is used to resolve long member
// names/offsets into repository-relative paths.
func ParseArmap(r io.Reader) ([]SymbolEntry, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, 8)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, codutil.NewFormatError("ar: truncated magic: %v", err)
	}
	isThin := string(magic) == thinMagic
	if !isThin && string(magic) != globalMagic {
		return nil, codutil.NewFormatError("ar: bad magic %q", magic)
	}

	hdr, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	if hdr.name != "/" {
		return nil, codutil.NewFormatError("ar: first member must be the armap (\"/\"), got %q", hdr.name)
	}
	armapData := make([]byte, hdr.size)
	if _, err := io.ReadFull(br, armapData); err != nil {
		return nil, codutil.NewFormatError("ar: truncated armap: %v", err)
	}
	if hdr.size%2 == 1 {
		br.Discard(1)
	}

	offsets, names, err := decodeArmap(armapData)
	if err != nil {
		return nil, err
	}
	if len(offsets) != len(names) {
		return nil, codutil.NewFormatError("ar: armap symbol/name count mismatch (%d vs %d)", len(offsets), len(names))
	}

	var nameTable map[uint32]string
	if isThin {
		nameTable, err = readStringTable(br)
		if err != nil {
			return nil, err
		}
	}

	entries := make([]SymbolEntry, len(offsets))
	for i, off := range offsets {
		member := names[i]
		if isThin {
			resolved, ok := nameTable[off]
			if !ok {
				return nil, codutil.NewFormatError("ar: armap offset %d has no matching member in the name table", off)
			}
			member = resolved
		}
		entries[i] = SymbolEntry{Symbol: names[i], MemberPath: member}
	}
	return entries, nil
}

// decodeArmap parses the "n:u32be, n x offset:u32be, NUL-terminated names"
// armap payload. It returns the raw offsets (used only to disambiguate
// thin-archive members via the string table) and the parallel symbol name
// list.
func decodeArmap(data []byte) (offsets []uint32, symbols []string, err error) {
	if len(data) < 4 {
		return nil, nil, codutil.NewFormatError("ar: armap too short")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n)*4 {
		return nil, nil, codutil.NewFormatError("ar: armap truncated before %d offsets", n)
	}
	offsets = make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		offsets[i] = binary.BigEndian.Uint32(data[i*4 : i*4+4])
	}
	nameBlob := data[n*4:]
	parts := bytes.Split(nameBlob, []byte{0})
	symbols = make([]string, 0, n)
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		symbols = append(symbols, string(p))
	}
	if uint32(len(symbols)) != n {
		return nil, nil, codutil.NewFormatError("ar: armap declares %d symbols but name table has %d", n, len(symbols))
	}
	return offsets, symbols, nil
}

// readStringTable parses the GNU "//" extended-name-table member, returning
// a map from the member's byte offset within that table (as stored in ar
// headers whose name field is "/<offset>") to the resolved file name.
func readStringTable(br *bufio.Reader) (map[uint32]string, error) {
	hdr, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	if hdr.name != "//" {
		return nil, codutil.NewFormatError("ar: expected GNU string table (\"//\"), got %q", hdr.name)
	}
	blob := make([]byte, hdr.size)
	if _, err := io.ReadFull(br, blob); err != nil {
		return nil, codutil.NewFormatError("ar: truncated string table: %v", err)
	}
	if hdr.size%2 == 1 {
		br.Discard(1)
	}

	table := make(map[uint32]string)
	start := 0
	for i := 0; i < len(blob); i++ {
		if blob[i] == '\n' {
			name := strings.TrimSuffix(string(blob[start:i]), "/")
			table[uint32(start)] = name
			start = i + 1
		}
	}
	return table, nil
}

type rawHeader struct {
	name string
	size int64
}

func readHeader(r io.Reader) (rawHeader, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return rawHeader{}, codutil.NewFormatError("ar: truncated member header: %v", err)
	}
	if buf[58] != 0x60 || buf[59] != '\n' {
		return rawHeader{}, codutil.NewFormatError("ar: bad member header terminator")
	}
	name := strings.TrimRight(string(buf[0:16]), " ")
	sizeStr := strings.TrimSpace(string(buf[48:58]))
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return rawHeader{}, codutil.NewFormatError("ar: bad size field %q: %v", sizeStr, err)
	}
	return rawHeader{name: name, size: size}, nil
}

// WriteThin writes a deterministic GNU thin archive referencing each
// member's on-disk content by relative path, without embedding it. The
// build's own thin archives come from the toolchain's archiver, not from
// this function. Like WriteRegular, it leads
// with an armap ("/") and, since thin members are addressed by offset into
// an extended name table rather than by ar header name, a GNU string table
// ("//") naming every member; ParseArmap(WriteThin(xs, syms)) reconstructs
// the same (symbol, member) pairs syms describes.
func WriteThin(w io.Writer, members []Member, symbolsByMember map[string][]string) error {
	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, m := range sorted {
		if m.ExternalPath == "" {
			return fmt.Errorf("archive.WriteThin: member %q has no ExternalPath", m.Name)
		}
	}

	var table bytes.Buffer
	nameOffset := make(map[string]uint32, len(sorted))
	for _, m := range sorted {
		nameOffset[m.Name] = uint32(table.Len())
		table.WriteString(m.Name)
		table.WriteString("/\n")
	}
	armap := encodeThinArmap(sorted, nameOffset, symbolsByMember)

	if _, err := io.WriteString(w, thinMagic); err != nil {
		return err
	}
	if err := writeHeader(w, "/", int64(len(armap)), 0); err != nil {
		return err
	}
	if _, err := w.Write(armap); err != nil {
		return err
	}
	if len(armap)%2 == 1 {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}

	tableBytes := table.Bytes()
	if err := writeHeader(w, "//", int64(len(tableBytes)), 0); err != nil {
		return err
	}
	if _, err := w.Write(tableBytes); err != nil {
		return err
	}
	if len(tableBytes)%2 == 1 {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}

	for _, m := range sorted {
		size, err := fileSize(m.ExternalPath)
		if err != nil {
			return err
		}
		if err := writeHeader(w, m.Name, size, m.Mode); err != nil {
			return err
		}
	}
	return nil
}

// encodeThinArmap builds the same "count, offsets, NUL-terminated names"
// payload as encodeArmap, except each offset addresses a member's entry in
// the string table (built by WriteThin) rather than the member's byte
// position in the archive, matching how ParseArmap resolves thin-archive
// armap offsets through the "//" table.
func encodeThinArmap(members []Member, nameOffset map[string]uint32, symbolsByMember map[string][]string) []byte {
	var pairs []SymbolEntry
	for _, m := range members {
		syms := append([]string(nil), symbolsByMember[m.Name]...)
		sort.Strings(syms)
		for _, s := range syms {
			pairs = append(pairs, SymbolEntry{Symbol: s, MemberPath: m.Name})
		}
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(pairs)))
	for _, p := range pairs {
		binary.Write(&buf, binary.BigEndian, nameOffset[p.MemberPath])
	}
	for _, p := range pairs {
		buf.WriteString(p.Symbol)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func writeHeader(w io.Writer, name string, size int64, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	hdr := fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10d\x60\n",
		name, 0, 0, 0, mode.Perm(), size)
	_, err := io.WriteString(w, hdr)
	return err
}

// WriteRegular writes a regular (non-thin) ar archive with embedded member
// content and a BSD/SysV symbol index, suitable for distribution. members
// is the ordered member list; symbols maps each member name to the symbols
// it defines (as extracted from the object's symbol table by the caller).
func WriteRegular(w io.Writer, members []Member, symbolsByMember map[string][]string) error {
	var body bytes.Buffer
	aw := ar.NewWriter(&body)
	if err := aw.WriteGlobalHeader(); err != nil {
		return err
	}

	offsets := make(map[string]int64, len(members))
	for _, m := range members {
		offsets[m.Name] = int64(body.Len()) - int64(len(globalMagic))
		mode := m.Mode
		if mode == 0 {
			mode = 0644
		}
		if err := aw.WriteHeader(&ar.Header{
			Name: m.Name,
			Size: int64(len(m.Data)),
			Mode: int64(mode.Perm()),
		}); err != nil {
			return err
		}
		if _, err := aw.Write(m.Data); err != nil {
			return err
		}
	}

	armap := encodeArmap(members, offsets, symbolsByMember)

	if _, err := io.WriteString(w, globalMagic); err != nil {
		return err
	}
	if err := writeHeader(w, "/", int64(len(armap)), 0); err != nil {
		return err
	}
	if _, err := w.Write(armap); err != nil {
		return err
	}
	if len(armap)%2 == 1 {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	_, err := w.Write(body.Bytes()[len(globalMagic):])
	return err
}

func encodeArmap(members []Member, offsets map[string]int64, symbolsByMember map[string][]string) []byte {
	var pairs []SymbolEntry
	for _, m := range members {
		syms := append([]string(nil), symbolsByMember[m.Name]...)
		sort.Strings(syms)
		for _, s := range syms {
			pairs = append(pairs, SymbolEntry{Symbol: s, MemberPath: m.Name})
		}
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(pairs)))
	for _, p := range pairs {
		binary.Write(&buf, binary.BigEndian, uint32(offsets[p.MemberPath]))
	}
	for _, p := range pairs {
		buf.WriteString(p.Symbol)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// RepoRelative makes a thin-archive member's external path relative to the
// archive's own directory, matching GNU ar's convention for thin members.
func RepoRelative(archiveDir, memberPath string) (string, error) {
	return filepath.Rel(archiveDir, memberPath)
}
