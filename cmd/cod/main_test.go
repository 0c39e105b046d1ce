package main

import (
	"errors"
	"testing"

	"github.com/cod-build/cod/internal/codutil"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unresolved symbol", &codutil.UnresolvedSymbolError{Symbols: []string{"foo"}}, 3},
		{"resolver problem", &codutil.ResolverProblem{Problems: []string{"conflict"}}, 3},
		{"ambiguity", &codutil.AmbiguityError{Capability: "<stdio.h>"}, 3},
		{"scan error", &codutil.ScanError{Command: []string{"cc"}, Err: errors.New("boom")}, 4},
		{"wrapped scan error", fmtWrap(&codutil.ScanError{Err: errors.New("boom")}), 4},
		{"format error", codutil.NewFormatError("bad flag"), 1},
		{"plain error", errors.New("whatever"), 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := exitCode(c.err); got != c.want {
				t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}

func fmtWrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "install: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestToolchainDriverDefault(t *testing.T) {
	t.Setenv("COD_TOOLCHAIN", "")
	if got := toolchainDriver(); got != "zig" {
		t.Errorf("toolchainDriver() = %q, want zig", got)
	}
}

func TestToolchainDriverOverride(t *testing.T) {
	t.Setenv("COD_TOOLCHAIN", "/opt/llvm/bin/clang-wrapper")
	if got := toolchainDriver(); got != "/opt/llvm/bin/clang-wrapper" {
		t.Errorf("toolchainDriver() = %q, want override", got)
	}
}
