package repo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zlib-1.0-1.x86_64.cod")
	want := &Artifact{ID: "zlib-1.0-1.x86_64", Provides: []string{"<zlib.h>"}, Requires: []string{"(malloc)"}}

	wrote, err := WriteArtifact(path, want)
	if err != nil || !wrote {
		t.Fatalf("WriteArtifact: wrote=%v err=%v", wrote, err)
	}

	got, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if got.ID != want.ID || len(got.Provides) != 1 || got.Provides[0] != "<zlib.h>" {
		t.Fatalf("got = %+v", got)
	}
}

func TestLocalRepoListAndFetch(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "zlib", ".cod")
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteArtifact(filepath.Join(pkgDir, "zlib-1.0-1.x86_64.cod"), &Artifact{ID: "zlib-1.0-1.x86_64"}); err != nil {
		t.Fatal(err)
	}

	r, err := New("local", root, map[string]interface{}{"path": "."})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ids, err := r.List()
	if err != nil || len(ids) != 1 || ids[0] != "zlib-1.0-1.x86_64" {
		t.Fatalf("List() = %v, %v", ids, err)
	}

	path, err := r.GetPath("zlib-1.0-1.x86_64")
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if filepath.Clean(path) != filepath.Clean(filepath.Join(root, "zlib")) {
		t.Fatalf("GetPath = %q", path)
	}
}

func TestNewUnknownType(t *testing.T) {
	if _, err := New("does-not-exist", t.TempDir(), nil); err == nil {
		t.Fatalf("expected error for unknown repo type")
	}
}
