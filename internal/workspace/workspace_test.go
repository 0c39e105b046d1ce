package workspace

import (
	"testing"

	"github.com/cod-build/cod/internal/arch"
	"github.com/cod-build/cod/internal/pkgprofile"
)

func TestArchForGOARCH(t *testing.T) {
	cases := []struct {
		goarch string
		want   arch.Arch
		ok     bool
	}{
		{"amd64", arch.X86_64, true},
		{"386", arch.I686, true},
		{"arm64", arch.AArch64, true},
		{"riscv64", "", false},
	}
	for _, c := range cases {
		got, err := archForGOARCH(c.goarch)
		if c.ok && err != nil {
			t.Errorf("archForGOARCH(%q): unexpected error %v", c.goarch, err)
		}
		if !c.ok && err == nil {
			t.Errorf("archForGOARCH(%q): expected error, got %v", c.goarch, got)
		}
		if c.ok && got != c.want {
			t.Errorf("archForGOARCH(%q) = %v, want %v", c.goarch, got, c.want)
		}
	}
}

func TestLinkTargetArgs(t *testing.T) {
	cases := []struct {
		a        arch.Arch
		wantTag  string
		wantMcpu bool
	}{
		{arch.X86_64, "x86_64-freestanding-none", false},
		{arch.AArch64, "aarch64-freestanding-none", false},
		{arch.I686, "x86-freestanding-none", true},
		{arch.I386, "x86-freestanding-none", true},
	}
	for _, c := range cases {
		tag, extra := linkTargetArgs(c.a)
		if tag != c.wantTag {
			t.Errorf("linkTargetArgs(%v) tag = %q, want %q", c.a, tag, c.wantTag)
		}
		hasMcpu := len(extra) == 1 && extra[0] == "-mcpu="+string(c.a)
		if hasMcpu != c.wantMcpu {
			t.Errorf("linkTargetArgs(%v) extra = %v, want -mcpu present=%v", c.a, extra, c.wantMcpu)
		}
	}
}

func fixtureWorkspace(declaredArches []arch.Arch) *Workspace {
	return &Workspace{
		Top: &pkgprofile.Package{Name: "widget", Arch: declaredArches},
	}
}

func TestResolveArchExplicitFlag(t *testing.T) {
	w := fixtureWorkspace([]arch.Arch{arch.X86_64, arch.AArch64})
	a, err := w.resolveArch("aarch64")
	if err != nil {
		t.Fatalf("resolveArch: %v", err)
	}
	if a != arch.AArch64 {
		t.Fatalf("resolveArch = %v, want aarch64", a)
	}
}

func TestResolveArchSingleDeclared(t *testing.T) {
	w := fixtureWorkspace([]arch.Arch{arch.I686})
	a, err := w.resolveArch("")
	if err != nil {
		t.Fatalf("resolveArch: %v", err)
	}
	if a != arch.I686 {
		t.Fatalf("resolveArch = %v, want i686", a)
	}
}

func TestResolveArchRejectsUnsupported(t *testing.T) {
	w := fixtureWorkspace([]arch.Arch{arch.AArch64})
	if _, err := w.resolveArch("x86_64"); err == nil {
		t.Fatalf("expected error requesting an arch the package doesn't declare")
	}
}

func TestResolveArchUnknownArch(t *testing.T) {
	w := fixtureWorkspace(nil)
	if _, err := w.resolveArch("made-up-arch"); err == nil {
		t.Fatalf("expected error for an unparseable architecture")
	}
}

func TestComputeUndefinedSymbolsResolvesThroughLibrary(t *testing.T) {
	binOrder := []string{"main.o"}
	binDefs := map[string]map[string]bool{"main.o": {}}
	initialQueues := map[string][]string{"main.o": {"foo"}}
	symbolOwner := map[string]string{"foo": "liba.a/a.o"}
	libDeps := map[string][]string{"liba.a/a.o": {"bar"}}

	got := computeUndefinedSymbols(binOrder, binDefs, initialQueues, symbolOwner, libDeps)
	if len(got) != 1 || got[0] != "bar" {
		t.Fatalf("computeUndefinedSymbols = %v, want [bar]", got)
	}
}

func TestComputeUndefinedSymbolsFullyResolved(t *testing.T) {
	binOrder := []string{"main.o"}
	binDefs := map[string]map[string]bool{"main.o": {}}
	initialQueues := map[string][]string{"main.o": {"foo"}}
	symbolOwner := map[string]string{"foo": "liba.a/a.o"}
	libDeps := map[string][]string{"liba.a/a.o": nil}

	got := computeUndefinedSymbols(binOrder, binDefs, initialQueues, symbolOwner, libDeps)
	if len(got) != 0 {
		t.Fatalf("computeUndefinedSymbols = %v, want none", got)
	}
}

func TestComputeUndefinedSymbolsNoProvider(t *testing.T) {
	binOrder := []string{"main.o"}
	binDefs := map[string]map[string]bool{"main.o": {}}
	initialQueues := map[string][]string{"main.o": {"missing"}}

	got := computeUndefinedSymbols(binOrder, binDefs, initialQueues, nil, nil)
	if len(got) != 1 || got[0] != "missing" {
		t.Fatalf("computeUndefinedSymbols = %v, want [missing]", got)
	}
}

func TestComputeUndefinedSymbolsDoesNotRevisitDefined(t *testing.T) {
	// Two bin members both need "shared"; it should only be chased through
	// the library graph once per member, and never re-flagged once satisfied.
	binOrder := []string{"a.o", "b.o"}
	binDefs := map[string]map[string]bool{"a.o": {}, "b.o": {}}
	initialQueues := map[string][]string{
		"a.o": {"shared"},
		"b.o": {"shared"},
	}
	symbolOwner := map[string]string{"shared": "libc.a/c.o"}
	libDeps := map[string][]string{"libc.a/c.o": nil}

	got := computeUndefinedSymbols(binOrder, binDefs, initialQueues, symbolOwner, libDeps)
	if len(got) != 0 {
		t.Fatalf("computeUndefinedSymbols = %v, want none", got)
	}
}
