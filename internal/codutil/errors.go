/*******************************************************************************
*
* This file is part of cod.
*
*******************************************************************************/

// Package codutil collects error kinds and small filesystem helpers shared
// across cod's internal packages.
package codutil

import (
	"errors"
	"fmt"
)

// ManifestError reports a malformed cod.toml or a schema violation: bad
// field type, unresolvable architecture string, etc.
type ManifestError struct {
	File  string
	Field string
	Err   error
}

func (e *ManifestError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Err)
	}
	return fmt.Sprintf("%s: field %q: %s", e.File, e.Field, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// ScanError reports a toolchain invocation that exited non-zero with output
// that didn't match the expected diagnostic shape.
type ScanError struct {
	Command []string
	Output  string
	Err     error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %v failed: %s\n%s", e.Command, e.Err, e.Output)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ResolverProblem reports a solver-detected conflict or unsatisfiable
// request. Problems is the set of human-readable problem descriptions the
// solver returned.
type ResolverProblem struct {
	Problems []string
}

func (e *ResolverProblem) Error() string {
	return fmt.Sprintf("resolver found %d problem(s):\n  %s", len(e.Problems), joinLines(e.Problems))
}

// AmbiguityError reports that the solver found more than one acceptable
// provider for a requested capability and refuses to choose.
type AmbiguityError struct {
	Capability string
	Candidates []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("alternatives exist for %q: %s (run `cod install <pkg>` to disambiguate)",
		e.Capability, joinLines(e.Candidates))
}

// UnresolvedSymbolError reports that the symbol phase failed to make
// progress: the lockfile was not dirtied by the last resolve attempt.
type UnresolvedSymbolError struct {
	Symbols []string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("cannot resolve %d symbol(s), no provider found:\n  %s",
		len(e.Symbols), joinLines(e.Symbols))
}

// FormatError reports a binary-format invariant violation: bad magic,
// truncated header, unsupported relocation.
type FormatError struct {
	What string
}

func (e *FormatError) Error() string { return e.What }

// NewFormatError is a convenience constructor mirroring fmt.Errorf.
func NewFormatError(format string, args ...interface{}) *FormatError {
	return &FormatError{What: fmt.Sprintf(format, args...)}
}

// InvariantError reports a header/archive provides-closure violation, e.g.
// validateHeaders finding a mismatch between declared and on-disk headers.
type InvariantError struct {
	What string
}

func (e *InvariantError) Error() string { return e.What }

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n  "
		}
		out += l
	}
	return out
}

// ErrorCollector aggregates errors so that manifest parsing and validation
// can keep checking after the first problem. The manifest parsers collect
// every problem found in one pass but return only the first one collected.
type ErrorCollector struct {
	Errors []error
}

// Add adds an error to the collector. A nil error is a no-op, so callers can
// write ec.Add(someFallibleOperation()) unconditionally.
func (c *ErrorCollector) Add(err error) {
	if err != nil {
		c.Errors = append(c.Errors, err)
	}
}

// Addf adds an error built from a format string, mirroring fmt.Errorf.
func (c *ErrorCollector) Addf(format string, args ...interface{}) {
	if len(args) > 0 {
		c.Errors = append(c.Errors, fmt.Errorf(format, args...))
	} else {
		c.Errors = append(c.Errors, errors.New(format))
	}
}

// OK reports whether no errors were collected.
func (c *ErrorCollector) OK() bool { return len(c.Errors) == 0 }
