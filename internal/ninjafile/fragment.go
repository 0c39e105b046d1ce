package ninjafile

import (
	"os"
	"path/filepath"

	"github.com/cod-build/cod/internal/codutil"
)

// WriteFragment builds a fragment via build (which receives a fresh
// Writer) and writes it to path only if the content differs from what's
// already there, creating parent directories as needed. Returns whether
// the file was actually (re)written.
func WriteFragment(path string, build func(w *Writer)) (wrote bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	w := NewWriter()
	build(w)
	return codutil.WriteIfChanged(path, w.Bytes(), 0o644)
}
