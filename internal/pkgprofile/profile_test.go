package pkgprofile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cod-build/cod/internal/arch"
	"github.com/cod-build/cod/internal/capability"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestPackage(t *testing.T) *Package {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cod.toml"), `
[package]
name = "widget"
version = "1.0"
`)
	writeFile(t, filepath.Join(root, "include", "widget.h"), "// widget\n")
	writeFile(t, filepath.Join(root, "src", "widget.c"), "int widget(void) { return 0; }\n")
	writeFile(t, filepath.Join(root, "bin", "main.c"), "int main(void) { return 0; }\n")

	pkg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return pkg
}

func TestProfileFileEnumeration(t *testing.T) {
	pkg := newTestPackage(t)
	p, err := NewProfile(pkg, arch.X86_64, "dev", arch.Noarch)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}

	headers, err := p.IncludeFiles()
	if err != nil {
		t.Fatalf("IncludeFiles: %v", err)
	}
	if _, ok := headers["widget.h"]; !ok {
		t.Fatalf("IncludeFiles = %v, missing widget.h", headers)
	}

	objs, err := p.Objs()
	if err != nil {
		t.Fatalf("Objs: %v", err)
	}
	if _, ok := objs["widget.o"]; !ok {
		t.Fatalf("Objs = %v, missing widget.o", objs)
	}

	elfs, err := p.Elfs()
	if err != nil {
		t.Fatalf("Elfs: %v", err)
	}
	if _, ok := elfs["main.elf"]; !ok {
		t.Fatalf("Elfs = %v, missing main.elf", elfs)
	}
}

func TestValidateHeadersMatch(t *testing.T) {
	pkg := newTestPackage(t)
	p, err := NewProfile(pkg, arch.X86_64, "dev", arch.Noarch)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	err = p.ValidateHeaders([]capability.Capability{capability.Header("widget.h")})
	if err != nil {
		t.Fatalf("ValidateHeaders: %v", err)
	}
}

func TestValidateHeadersMismatch(t *testing.T) {
	pkg := newTestPackage(t)
	p, err := NewProfile(pkg, arch.X86_64, "dev", arch.Noarch)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	err = p.ValidateHeaders([]capability.Capability{capability.Header("nonexistent.h")})
	if err == nil {
		t.Fatalf("expected ValidateHeaders error for mismatched header set")
	}
}

func TestCheckArchMismatch(t *testing.T) {
	if err := CheckArch(arch.AArch64, arch.I386); err == nil {
		t.Fatalf("expected error for incompatible arches")
	}
	if err := CheckArch(arch.X86_64, arch.I386); err != nil {
		t.Fatalf("expected x86_64 to accept i386: %v", err)
	}
}

func TestParseSelector(t *testing.T) {
	name, a, err := ParseSelector("dev.x86_64")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	if name != "dev" || a != arch.X86_64 {
		t.Fatalf("got (%q, %v)", name, a)
	}
	if _, _, err := ParseSelector("noarchonly"); err == nil {
		t.Fatalf("expected error for selector without a dot")
	}
}
