// Package scanner runs the two dependency queries this build system
// treats as authoritative: which headers a source file fails to find on
// its include path, and which symbols an object or archive fails to
// resolve against itself. Both are pure, stateless queries against a
// child C toolchain invoked with a fail-fast flag; neither mutates any
// state the caller owns.
package scanner

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/golang/glog"

	"github.com/cod-build/cod/internal/codutil"
)

// Toolchain names the external compiler driver and carries the flags every
// invocation needs to target a specific architecture. Driver is resolved
// once (by well-known entry point) and reused across all queries in a run.
type Toolchain struct {
	Driver    string
	TargetTag string   // e.g. "x86_64-unknown-unknown"
	ExtraArgs []string // e.g. ["-mcpu=i686"] for a 32-bit x86 variant
}

func (t Toolchain) targetArgs() []string {
	if t.TargetTag == "" {
		return t.ExtraArgs
	}
	return append([]string{fmt.Sprintf("--target=%s", t.TargetTag)}, t.ExtraArgs...)
}

// MissingHeaders runs the preprocessor with -MM -MG against a single
// source or header file, scoped to cwd (dir), and returns every named
// prerequisite that doesn't exist under the scanned include roots.
func (t Toolchain) MissingHeaders(dir, file string, includeDirs []string) ([]string, error) {
	args := append([]string{"clang"}, t.targetArgs()...)
	args = append(args, "-nostdinc", "-MM", "-MG")
	for _, inc := range includeDirs {
		args = append(args, "-I"+inc)
	}
	args = append(args, file)

	cmd := exec.Command(t.Driver, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &codutil.ScanError{Command: cmd.Args, Output: stderr.String(), Err: err}
	}

	glog.V(1).Infof("scanner: -MM -MG %s -> %d bytes", file, len(out))

	names, err := parseMakeDeps(out)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range names {
		if name == file {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// parseMakeDeps parses "makefile" dependency output: a target, a colon, and
// a backslash-continued list of prerequisites, with "$$" meaning a literal
// "$". Only the prerequisite names are returned, the target is discarded.
func parseMakeDeps(out []byte) ([]string, error) {
	joined := joinContinuations(string(out))

	idx := strings.IndexByte(joined, ':')
	if idx < 0 {
		return nil, codutil.NewFormatError("scanner: malformed dependency output (no ':'): %q", joined)
	}
	fields, err := shellSplit(joined[idx+1:])
	if err != nil {
		return nil, codutil.NewFormatError("scanner: malformed dependency output: %s", err)
	}

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, strings.ReplaceAll(f, "$$", "$"))
	}
	return names, nil
}

// joinContinuations collapses "line ending in backslash" + newline into a
// single space-joined logical line, the way make's dependency output does.
func joinContinuations(s string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasSuffix(line, "\\") {
			b.WriteString(strings.TrimSuffix(line, "\\"))
			b.WriteByte(' ')
		} else {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// shellSplit tokenizes whitespace-separated fields, honoring backslash
// escapes the way make emits them (a backslash before a space protects
// that space from being a field separator).
func shellSplit(s string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	escaped := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return fields, nil
}

var undefinedSymbolRx = regexp.MustCompile(`(?m): error: undefined symbol: (\S+)$`)

// MissingSymbols invokes the toolchain in linker mode against a single
// object file or archive with a fail-on-resolution linker script, and
// returns the set of externally-referenced symbols the toolchain could not
// satisfy on its own.
func (t Toolchain) MissingSymbols(dir, objOrArchive, alwaysFailScript string) ([]string, error) {
	args := append([]string{"cc"}, t.targetArgs()...)
	args = append(args, "-Wl,--script="+alwaysFailScript, objOrArchive)

	cmd := exec.Command(t.Driver, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()

	matches := undefinedSymbolRx.FindAllStringSubmatch(stderr.String(), -1)
	if err != nil && len(matches) == 0 {
		return nil, &codutil.ScanError{Command: cmd.Args, Output: stderr.String(), Err: err}
	}

	seen := map[string]bool{}
	var symbols []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			symbols = append(symbols, m[1])
		}
	}
	glog.V(1).Infof("scanner: link-probe %s -> %d undefined symbol(s)", objOrArchive, len(symbols))
	return symbols, nil
}
