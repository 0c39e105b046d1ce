package ninjafile

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

func TestWriterBuildStatement(t *testing.T) {
	w := NewWriter()
	w.Variable("cflags", []string{"-O2", "-Wall"})
	w.Rule("cc", map[string]string{"command": "$cc $cflags -c $in -o $out"})
	w.Build([]string{"widget.o"}, "cc", []string{"widget.c"}, nil, nil)

	out := w.String()
	if !strings.Contains(out, "cflags = -O2 -Wall\n") {
		t.Fatalf("missing cflags variable: %q", out)
	}
	if !strings.Contains(out, "rule cc\n  command = $cc $cflags -c $in -o $out\n") {
		t.Fatalf("missing rule block: %q", out)
	}
	if !strings.Contains(out, "build widget.o: cc widget.c\n") {
		t.Fatalf("missing build statement: %q", out)
	}
}

func TestWriterBuildWithImplicit(t *testing.T) {
	w := NewWriter()
	w.Build([]string{"bin/main"}, "ld", []string{"main.o"}, []string{"libs", "$linker-script"}, nil)
	out := w.String()
	if !strings.Contains(out, "build bin/main: ld main.o | libs $linker-script\n") {
		t.Fatalf("missing implicit-input build statement: %q", out)
	}
}

func TestWriteFragmentIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "pkg.ninja")

	build := func(w *Writer) { w.Variable("cflags", "-O2") }

	wrote, err := WriteFragment(path, build)
	if err != nil {
		t.Fatalf("WriteFragment: %v", err)
	}
	if !wrote {
		t.Fatalf("expected first write to report wrote=true")
	}

	wrote, err = WriteFragment(path, build)
	if err != nil {
		t.Fatalf("WriteFragment (second): %v", err)
	}
	if wrote {
		t.Fatalf("expected unchanged re-emission to report wrote=false")
	}
}

// assertGolden compares got against want and, on mismatch, renders a
// readable diff instead of dumping both full strings.
func assertGolden(t *testing.T, got, want string) {
	t.Helper()
	if got == want {
		return
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(want, got, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	t.Errorf("ninja output does not match golden (red = missing, green = extra):\n%s", dmp.DiffPrettyText(diffs))
}

func TestWriterGoldenOutput(t *testing.T) {
	w := NewWriter()
	w.Variable("cc", []string{"zig", "clang"})
	w.Rule("cc", map[string]string{
		"command":     "$cc -c $in -o $out",
		"description": "CC $out",
	})
	w.Build([]string{"widget.o"}, "cc", []string{"widget.c"}, nil, nil)
	w.Default([]string{"widget.o"})

	want := "cc = zig clang\n" +
		"rule cc\n" +
		"  command = $cc -c $in -o $out\n" +
		"  description = CC $out\n" +
		"build widget.o: cc widget.c\n" +
		"default widget.o\n"
	assertGolden(t, w.String(), want)
}
