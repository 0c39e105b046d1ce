package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteRegularRoundTrip(t *testing.T) {
	members := []Member{
		{Name: "b.o", Data: []byte("second")},
		{Name: "a.o", Data: []byte("first")},
	}
	symbols := map[string][]string{
		"a.o": {"foo", "bar"},
		"b.o": {"baz"},
	}

	var buf bytes.Buffer
	if err := WriteRegular(&buf, members, symbols); err != nil {
		t.Fatalf("WriteRegular: %v", err)
	}

	entries, err := ParseArmap(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ParseArmap: %v", err)
	}

	got := map[string]string{}
	for _, e := range entries {
		got[e.Symbol] = e.MemberPath
	}
	want := map[string]string{"foo": "a.o", "bar": "a.o", "baz": "b.o"}
	for sym, member := range want {
		if got[sym] != member {
			t.Errorf("symbol %q owner = %q, want %q", sym, got[sym], member)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
}

func TestWriteRegularEmbedsContent(t *testing.T) {
	var buf bytes.Buffer
	members := []Member{{Name: "x.o", Data: []byte("hello world")}}
	if err := WriteRegular(&buf, members, nil); err != nil {
		t.Fatalf("WriteRegular: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("hello world")) {
		t.Fatalf("regular archive does not embed member content")
	}
	if !strings.HasPrefix(buf.String(), globalMagic) {
		t.Fatalf("regular archive missing global magic")
	}
}

func TestParseArmapRejectsBadMagic(t *testing.T) {
	_, err := ParseArmap(bytes.NewReader([]byte("not an archive")))
	if err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestWriteThinReferencesExternalFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.o")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var buf bytes.Buffer
	members := []Member{
		{Name: "widget.o", ExternalPath: path},
	}
	if err := WriteThin(&buf, members, nil); err != nil {
		t.Fatalf("WriteThin: %v", err)
	}
	if !strings.HasPrefix(buf.String(), thinMagic) {
		t.Fatalf("thin archive missing thin magic")
	}
	if bytes.Contains(buf.Bytes(), []byte("0123456789")) {
		t.Fatalf("thin archive must not embed member content")
	}
	if !strings.Contains(buf.String(), "widget.o") {
		t.Fatalf("thin archive header missing member name")
	}
}

func TestWriteThinRequiresExternalPath(t *testing.T) {
	var buf bytes.Buffer
	err := WriteThin(&buf, []Member{{Name: "x.o"}}, nil)
	if err == nil {
		t.Fatalf("expected error for member with no ExternalPath")
	}
}

func TestWriteThinRoundTrip(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.o")
	bPath := filepath.Join(dir, "b.o")
	if err := os.WriteFile(aPath, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(bPath, []byte("second"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	members := []Member{
		{Name: "b.o", ExternalPath: bPath},
		{Name: "a.o", ExternalPath: aPath},
	}
	symbols := map[string][]string{
		"a.o": {"foo", "bar"},
		"b.o": {"baz"},
	}

	var buf bytes.Buffer
	if err := WriteThin(&buf, members, symbols); err != nil {
		t.Fatalf("WriteThin: %v", err)
	}

	entries, err := ParseArmap(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ParseArmap(WriteThin(...)): %v", err)
	}

	got := map[string]string{}
	for _, e := range entries {
		got[e.Symbol] = e.MemberPath
	}
	want := map[string]string{"foo": "a.o", "bar": "a.o", "baz": "b.o"}
	for sym, member := range want {
		if got[sym] != member {
			t.Errorf("symbol %q owner = %q, want %q", sym, got[sym], member)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
}

func TestRepoRelative(t *testing.T) {
	rel, err := RepoRelative("lib", "obj/widget.o")
	if err != nil {
		t.Fatalf("RepoRelative: %v", err)
	}
	if rel != filepath.Join("..", "obj", "widget.o") {
		t.Fatalf("RepoRelative = %q", rel)
	}
}
