package scanner

import (
	"reflect"
	"testing"
)

func TestParseMakeDeps(t *testing.T) {
	out := []byte("foo.o: foo.c foo.h \\\n  bar.h baz$$h.h\n")
	names, err := parseMakeDeps(out)
	if err != nil {
		t.Fatalf("parseMakeDeps: %v", err)
	}
	want := []string{"foo.c", "foo.h", "bar.h", "baz$h.h"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
}

func TestParseMakeDepsNoColon(t *testing.T) {
	if _, err := parseMakeDeps([]byte("garbage output")); err == nil {
		t.Fatalf("expected error for output with no ':'")
	}
}

func TestUndefinedSymbolRegex(t *testing.T) {
	stderr := "ld.lld: error: undefined symbol: foo_bar\n" +
		">>> referenced by main.o:(main)\n" +
		"ld.lld: error: undefined symbol: baz\n"
	matches := undefinedSymbolRx.FindAllStringSubmatch(stderr, -1)
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2: %v", len(matches), matches)
	}
	if matches[0][1] != "foo_bar" || matches[1][1] != "baz" {
		t.Fatalf("unexpected symbol names: %v", matches)
	}
}

func TestShellSplitBackslashSpace(t *testing.T) {
	fields, err := shellSplit(`foo.c path\ with\ space.h bar.h`)
	if err != nil {
		t.Fatalf("shellSplit: %v", err)
	}
	want := []string{"foo.c", "path with space.h", "bar.h"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
}
