package scanner

import (
	_ "embed"
	"os"
	"path/filepath"
)

//go:embed always-fail.ld
var alwaysFailScript []byte

// WriteAlwaysFailScript materializes the bundled fail-on-resolution linker
// script into dir so a Toolchain invocation can reference it with
// -Wl,--script=. Returns the script's path.
func WriteAlwaysFailScript(dir string) (string, error) {
	path := filepath.Join(dir, "always-fail.ld")
	if err := os.WriteFile(path, alwaysFailScript, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
