package pkgprofile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cod-build/cod/internal/arch"
	"github.com/cod-build/cod/internal/capability"
	"github.com/cod-build/cod/internal/codutil"
	"github.com/cod-build/cod/internal/manifest"
	"github.com/cod-build/cod/internal/scanner"
)

// Profile is a package built for one architecture under one named profile
// (e.g. "dev", "release"): it resolves the package's arch-indexed build
// flags down to concrete flags, and enumerates the on-disk files that
// belong to this (arch, profile) build.
type Profile struct {
	Package     *Package
	Name        string
	TopArch     arch.Arch
	Arch        arch.Arch // "noarch" if the package declares no arches
	BuildArch   arch.Arch // == Arch unless Arch is noarch, then == TopArch
	ID          ID
	IncludeDirs []string
	manifest    manifest.Profile
}

// archDir returns the package's arch/<arch> override directory, or "" when
// this profile builds for noarch (no override directory exists).
func (p *Profile) archDir() string {
	if p.Arch == arch.Noarch {
		return ""
	}
	return filepath.Join(p.Package.RootDir, "arch", string(p.Arch))
}

// NewProfile builds a Profile for pkg, building under topArch (the
// top-level target architecture), selecting the named profile and the
// package's own build-time architecture (noarch if the package declares
// none).
func NewProfile(pkg *Package, topArch arch.Arch, profileName string, pkgArch arch.Arch) (*Profile, error) {
	if len(pkg.Arch) == 0 {
		pkgArch = arch.Noarch
	}
	buildArch := pkgArch
	if pkgArch == arch.Noarch {
		buildArch = topArch
	}
	if err := CheckArch(topArch, buildArch); err != nil {
		return nil, err
	}

	pm := pkg.Manifest.Profile[profileName]

	includeDirs := []string{filepath.Join(pkg.RootDir, "include")}
	p := &Profile{
		Package:   pkg,
		Name:      profileName,
		TopArch:   topArch,
		Arch:      pkgArch,
		BuildArch: buildArch,
		ID:        ID{Name: pkg.Name, EVR: pkg.EVR, Arch: pkgArch},
		manifest:  pm,
	}
	if d := p.archDir(); d != "" {
		includeDirs = append(includeDirs, filepath.Join(d, "include"))
	}
	p.IncludeDirs = includeDirs
	return p, nil
}

// IncludeFiles is R/include/**.h ∪ R/arch/<arch>/include/**.h, keyed by
// their path relative to the relevant include root.
func (p *Profile) IncludeFiles() (fileMapping, error) {
	out, err := findFiles(filepath.Join(p.Package.RootDir, "include"), "*.h", ".h", "")
	if err != nil {
		return nil, err
	}
	if d := p.archDir(); d != "" {
		sub, err := findFiles(filepath.Join(d, "include"), "*.h", ".h", "")
		if err != nil {
			return nil, err
		}
		mergeInto(out, sub)
	}
	return out, nil
}

// Objs is R/src/**.{c,S} ∪ R/arch/<arch>/src/**.{c,S}; arch-specific
// sources get a logical "asm/" key prefix so they can't collide with the
// package's native sources of the same relative path.
func (p *Profile) Objs() (fileMapping, error) {
	out, err := findFiles(filepath.Join(p.Package.RootDir, "src"), "*.c", ".o", "")
	if err != nil {
		return nil, err
	}
	sAsm, err := findFiles(filepath.Join(p.Package.RootDir, "src"), "*.S", ".s.o", "")
	if err != nil {
		return nil, err
	}
	mergeInto(out, sAsm)
	if d := p.archDir(); d != "" {
		c, err := findFiles(filepath.Join(d, "src"), "*.c", ".o", "asm")
		if err != nil {
			return nil, err
		}
		mergeInto(out, c)
		s, err := findFiles(filepath.Join(d, "src"), "*.S", ".s.o", "asm")
		if err != nil {
			return nil, err
		}
		mergeInto(out, s)
	}
	return out, nil
}

// Elfs is R/bin/**.{c,S} ∪ the arch variant: the package's executable
// units, each compiled and linked standalone.
func (p *Profile) Elfs() (fileMapping, error) {
	out, err := findFiles(filepath.Join(p.Package.RootDir, "bin"), "*.c", ".elf", "")
	if err != nil {
		return nil, err
	}
	s, err := findFiles(filepath.Join(p.Package.RootDir, "bin"), "*.S", ".elf", "")
	if err != nil {
		return nil, err
	}
	mergeInto(out, s)
	if d := p.archDir(); d != "" {
		c, err := findFiles(filepath.Join(d, "bin"), "*.c", ".elf", "")
		if err != nil {
			return nil, err
		}
		mergeInto(out, c)
		as, err := findFiles(filepath.Join(d, "bin"), "*.S", ".elf", "")
		if err != nil {
			return nil, err
		}
		mergeInto(out, as)
	}
	return out, nil
}

// IncludeDeps scans every header, source, and executable-unit file for
// missing headers via tc, and returns the union as header capabilities.
func (p *Profile) IncludeDeps(tc scanner.Toolchain) ([]capability.Capability, error) {
	headers, err := p.IncludeFiles()
	if err != nil {
		return nil, err
	}
	objs, err := p.Objs()
	if err != nil {
		return nil, err
	}
	elfs, err := p.Elfs()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var deps []capability.Capability
	scanOne := func(absPath string) error {
		dir := filepath.Dir(absPath)
		missing, err := tc.MissingHeaders(dir, filepath.Base(absPath), p.IncludeDirs)
		if err != nil {
			return err
		}
		for _, h := range missing {
			if !seen[h] {
				seen[h] = true
				deps = append(deps, capability.Header(h))
			}
		}
		return nil
	}

	for _, m := range []fileMapping{headers, objs, elfs} {
		for _, key := range m.sortedKeys() {
			if err := scanOne(m[key]); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps, nil
}

// ValidateHeaders asserts that the package's provided header capability set
// exactly matches its on-disk header set: a stale manifest can't silently
// under- or over-claim what it exports.
func (p *Profile) ValidateHeaders(provides []capability.Capability) error {
	headers, err := p.IncludeFiles()
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for key := range headers {
		have[key] = true
	}
	need := map[string]bool{}
	for _, c := range provides {
		if c.Kind == capability.KindHeader {
			need[c.Name] = true
		}
	}
	if !setsEqual(have, need) {
		return &codutil.InvariantError{What: fmt.Sprintf(
			"package %s header list conflict: declared %v, on-disk %v", p.ID, sortedSetKeys(need), sortedSetKeys(have))}
	}
	return nil
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedSetKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BuildFlags resolves the package's own build flags plus this profile's
// overrides, both indexed by BuildArch, combined package-then-profile.
func (p *Profile) BuildFlags() manifest.BuildFlags {
	pkgFlags := p.Package.Manifest.Build.Resolve(p.BuildArch)
	profileFlags := p.manifest.Build.Resolve(p.BuildArch)
	return manifest.Combine(pkgFlags, profileFlags)
}

// ExportFlags resolves the package's exported flags for the top-level
// build architecture (consumers build against the top arch, not the
// package's own build arch).
func (p *Profile) ExportFlags() manifest.BuildFlags {
	return p.Package.Manifest.Export.Resolve(p.TopArch)
}

// NeedsObjconv reports whether this profile's objects must be lifted via
// objconv before being consumed by the top-level build.
func (p *Profile) NeedsObjconv() bool {
	return arch.NeedsLift(p.TopArch, p.BuildArch)
}

// LibraryArchiveName is the lib/lib<name>.a this profile builds when it has
// no executables of its own.
func (p *Profile) LibraryArchiveName() string {
	return fmt.Sprintf("lib/lib%s.a", p.Package.Name)
}

// ParseSelector splits a "<profile>.<arch>" selector (e.g. "dev.x86_64")
// into its profile name and architecture.
func ParseSelector(selector string) (profileName string, a arch.Arch, err error) {
	idx := strings.LastIndex(selector, ".")
	if idx < 0 {
		return "", "", codutil.NewFormatError("malformed profile selector %q (want name.arch)", selector)
	}
	name, archStr := selector[:idx], selector[idx+1:]
	parsed, ok := arch.Parse(archStr)
	if !ok {
		return "", "", codutil.NewFormatError("unknown architecture %q in profile selector %q", archStr, selector)
	}
	return name, parsed, nil
}
