// Package pkgprofile models a package rooted at a directory on disk and
// the per-(architecture, profile-name) build configuration derived from
// it: file enumeration (headers, objects, executables) and the transitive
// include-dependency scan. The ninja fragments are emitted by
// internal/buildgraph.
package pkgprofile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cod-build/cod/internal/arch"
	"github.com/cod-build/cod/internal/codutil"
	"github.com/cod-build/cod/internal/evr"
	"github.com/cod-build/cod/internal/manifest"
)

// ID identifies one built artifact of a package: its name, version, and
// the architecture it was built for (or "noarch").
type ID struct {
	Name string
	EVR  evr.EVR
	Arch arch.Arch
}

func (id ID) String() string {
	return fmt.Sprintf("%s-%s.%s", id.Name, id.EVR.String(), id.Arch)
}

// ParseID parses the "<name>-<evr>.<arch>" string form written into
// lockfiles and .cod artifacts, e.g. "zlib-1:1.2.13-2.x86_64".
func ParseID(s string) (ID, error) {
	dot := strings.LastIndex(s, ".")
	if dot < 0 {
		return ID{}, codutil.NewFormatError("malformed package id %q (missing .arch)", s)
	}
	namePart, archStr := s[:dot], s[dot+1:]
	a, ok := arch.Parse(archStr)
	if !ok {
		return ID{}, codutil.NewFormatError("malformed package id %q: unknown architecture %q", s, archStr)
	}

	firstDash := strings.Index(namePart, "-")
	secondDash := strings.LastIndex(namePart, "-")
	if firstDash < 0 || secondDash <= firstDash {
		return ID{}, codutil.NewFormatError("malformed package id %q (expected name-evr-release)", s)
	}
	name := namePart[:firstDash]
	e, err := evr.Parse(namePart[firstDash+1:])
	if err != nil {
		return ID{}, codutil.NewFormatError("malformed package id %q: %s", s, err)
	}
	return ID{Name: name, EVR: e, Arch: a}, nil
}

// Package is a parsed cod.toml plus the filesystem root it was read from.
type Package struct {
	RootDir  string
	Manifest *manifest.PackageManifest
	Name     string
	EVR      evr.EVR
	Arch     []arch.Arch // declared arches; empty means "native only"
}

// Load reads and validates rootDir/cod.toml.
func Load(rootDir string) (*Package, error) {
	m, err := manifest.ParsePackageManifestFile(filepath.Join(rootDir, "cod.toml"))
	if err != nil {
		return nil, err
	}
	return &Package{
		RootDir:  rootDir,
		Manifest: m,
		Name:     m.Package.Name,
		EVR:      m.Package.Version,
		Arch:     m.Package.Arch,
	}, nil
}

// SupportsArch reports whether the package declares a (arch.Noarch means
// "all") or declares no arch list at all (native-only packages accept
// whatever native arch the caller resolved).
func (p *Package) SupportsArch(a arch.Arch) bool {
	if len(p.Arch) == 0 {
		return true
	}
	for _, pa := range p.Arch {
		if pa == a || pa == arch.Noarch {
			return true
		}
	}
	return false
}

// CheckArch asserts arch.Compatible(topArch, buildArch), per the build-arch
// mismatch invariant: a package can only be consumed by a top-level build
// of an identical or cross-arch-compatible architecture.
func CheckArch(topArch, buildArch arch.Arch) error {
	if !arch.Compatible(topArch, buildArch) {
		return &codutil.InvariantError{What: fmt.Sprintf("build arch mismatch: top=%s package=%s", topArch, buildArch)}
	}
	return nil
}

// fileMapping maps a logical include-relative key ("asm/foo.o", "bar.h",
// ...) to the absolute source path it was derived from.
type fileMapping map[string]string

// findFiles mirrors find_files: every file under root matching glob gets a
// logical key of the same relative path with its extension replaced by
// newSuffix, optionally namespaced by a key prefix (used for arch/src's
// asm/ prefix).
func findFiles(root, glob, newSuffix, keyPrefix string) (fileMapping, error) {
	out := fileMapping{}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return out, nil
	}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matched, err := filepath.Match(glob, filepath.Base(path))
		if err != nil {
			return err
		}
		if !matched {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(rel, filepath.Ext(rel)) + newSuffix
		if keyPrefix != "" {
			key = filepath.Join(keyPrefix, key)
		}
		out[filepath.ToSlash(key)] = path
		return nil
	})
	return out, err
}

func mergeInto(dst, src fileMapping) {
	for k, v := range src {
		dst[k] = v
	}
}

// sortedKeys returns m's keys in sorted order, for deterministic ninja
// build-rule emission.
func (m fileMapping) sortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
