package codutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteIfChanged writes data to path only if the file doesn't already exist
// with identical contents, so that ninja fragments and the lockfile don't
// get a new mtime on every run with no actual change. Parent directories are
// created as needed. The write itself goes through a temp file + rename so
// a reader never observes a partial write.
func WriteIfChanged(path string, data []byte, perm os.FileMode) (wrote bool, err error) {
	if existing, err := os.Open(path); err == nil {
		equal, err := readerEqualTo(existing, data)
		existing.Close()
		if err != nil {
			return false, err
		}
		if equal {
			return false, nil
		}
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cod-tmp-*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return false, err
	}
	return true, nil
}

func readerEqualTo(r io.Reader, want []byte) (bool, error) {
	buf := make([]byte, len(want)+1) //+1 so a longer file doesn't falsely equal a prefix
	n, err := io.ReadFull(r, buf)
	switch err {
	case io.ErrUnexpectedEOF:
		return n == len(want) && bytes.Equal(buf[:n], want), nil
	case io.EOF:
		return len(want) == 0, nil
	case nil:
		return false, nil //file is longer than want
	default:
		return false, err
	}
}

// FileExists reports whether path names a regular, readable file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Errorf is a thin fmt.Errorf wrapper kept here so call sites that already
// import codutil for error kinds don't need a second "fmt" import purely for
// wrapping.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
