// Package capability implements the capability string token over which the
// resolver reasons: five exclusively-namespaced syntactic classes — header,
// symbol, archive name, linker script, and package selector.
package capability

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies which of the five capability namespaces a Capability
// belongs to.
type Kind int

const (
	KindHeader Kind = iota
	KindSymbol
	KindArchive
	KindLinkerScript
	KindSelector
)

// Capability is an opaque-to-the-solver token in one of the five
// namespaces. Headers and symbols carry a Name without their bracket/paren
// decoration; Archive carries the bare "libfoo.a" filename; LinkerScript
// has no payload; Selector carries a package-relation spec (name plus
// optional version constraint, parsed by the manifest/resolver layer).
type Capability struct {
	Kind Kind
	Name string
}

const LinkerScriptToken = "linker-script"

// Header builds the capability for a public header file.
func Header(path string) Capability { return Capability{Kind: KindHeader, Name: path} }

// Symbol builds the capability for a linker symbol.
func Symbol(name string) Capability { return Capability{Kind: KindSymbol, Name: name} }

// Archive builds the capability for a static archive name, e.g. "libfoo.a".
func Archive(name string) Capability { return Capability{Kind: KindArchive, Name: name} }

// LinkerScript is the nullary linker-script capability.
func LinkerScript() Capability { return Capability{Kind: KindLinkerScript} }

// Selector builds a package-selector capability, e.g. "zlib" or "zlib >= 1.2".
func Selector(spec string) Capability { return Capability{Kind: KindSelector, Name: spec} }

// String renders the canonical syntax for this capability, as it would
// appear in a package's provides/requires list or a .cod manifest.
func (c Capability) String() string {
	switch c.Kind {
	case KindHeader:
		return "<" + c.Name + ">"
	case KindSymbol:
		return "(" + c.Name + ")"
	case KindArchive:
		return c.Name
	case KindLinkerScript:
		return LinkerScriptToken
	default:
		return c.Name
	}
}

var (
	headerRx = regexp.MustCompile(`^<(.+)>$`)
	symbolRx = regexp.MustCompile(`^\((.+)\)$`)
	archiveRx = regexp.MustCompile(`^lib[A-Za-z0-9_+.-]*\.a$`)
)

// Parse classifies a raw capability token into its namespace. Archive names
// must end in ".a" and start with "lib"; the literal string "linker-script"
// is reserved; anything else is a package selector.
func Parse(token string) (Capability, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Capability{}, fmt.Errorf("empty capability token")
	}
	if m := headerRx.FindStringSubmatch(token); m != nil {
		return Header(m[1]), nil
	}
	if m := symbolRx.FindStringSubmatch(token); m != nil {
		return Symbol(m[1]), nil
	}
	if token == LinkerScriptToken {
		return LinkerScript(), nil
	}
	if archiveRx.MatchString(token) {
		return Archive(token), nil
	}
	return Selector(token), nil
}

// Exclusive reports whether two providers of this capability must be
// treated as mutually conflicting: every header, symbol, archive name, and
// linker-script capability makes its solvable Conflict with itself on that
// capability, forcing exactly one provider. Selector capabilities (plain
// package names/obsoletes) are not exclusive in this sense; multiple
// packages may "provide" a virtual package name.
func (c Capability) Exclusive() bool {
	return c.Kind != KindSelector
}
