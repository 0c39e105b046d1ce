// Package manifest decodes cod.toml package and project manifests into
// cod's domain model, and implements the ⊕ flag-combination policy used to
// resolve a package's effective build flags for a given architecture and
// profile.
package manifest

import (
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/cod-build/cod/internal/arch"
	"github.com/cod-build/cod/internal/codutil"
	"github.com/cod-build/cod/internal/evr"
)

// Package is the [package] table of a package manifest.
type Package struct {
	Name    string
	Version evr.EVR
	Arch    []arch.Arch // empty means "native only"
}

// Profile is one [profile.<name>] table.
type Profile struct {
	Build FlagSpec
}

// PackageManifest is a fully decoded, validated cod.toml for a package.
type PackageManifest struct {
	Package Package
	Export  FlagSpec
	Build   FlagSpec
	Profile map[string]Profile
}

// rawPackageManifest mirrors the TOML document shape before restructuring;
// Export/Build/Profile.Build are left as interface{} so decodeFlagSpec can
// tell a flat BuildFlags table from an arch-indexed map of them.
type rawPackageManifest struct {
	Package rawPackage
	Export  interface{}
	Build   interface{}
	Profile map[string]rawProfile
}

type rawPackage struct {
	Name    string
	Version string
	Epoch   int
	Release string
	Arch    interface{} // string, []string, or absent
}

type rawProfile struct {
	Build interface{}
}

// ParsePackageManifest decodes and validates a package cod.toml.
func ParsePackageManifest(r io.Reader, file string) (*PackageManifest, error) {
	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var raw rawPackageManifest
	if _, err := toml.Decode(string(blob), &raw); err != nil {
		return nil, &codutil.ManifestError{File: file, Err: err}
	}

	ec := &codutil.ErrorCollector{}

	name := strings.TrimSpace(raw.Package.Name)
	if name == "" {
		ec.Add(&codutil.ManifestError{File: file, Field: "package.name", Err: codutil.NewFormatError("missing package name")})
	}
	if strings.ContainsAny(name, "/\r\n") {
		ec.Add(&codutil.ManifestError{File: file, Field: "package.name", Err: codutil.NewFormatError("may not contain slashes or newlines")})
	}
	if strings.TrimSpace(raw.Package.Version) == "" {
		ec.Add(&codutil.ManifestError{File: file, Field: "package.version", Err: codutil.NewFormatError("missing package version")})
	}

	release := strings.TrimSpace(raw.Package.Release)
	if release == "" {
		release = "0"
	}
	version := evr.EVR{Epoch: raw.Package.Epoch, Version: strings.TrimSpace(raw.Package.Version), Release: release}

	arches, err := normalizeArchField(raw.Package.Arch)
	if err != nil {
		ec.Add(&codutil.ManifestError{File: file, Field: "package.arch", Err: err})
	}

	export, err := decodeFlagSpec(raw.Export, file, "export")
	ec.Add(err)
	build, err := decodeFlagSpec(raw.Build, file, "build")
	ec.Add(err)

	profiles := map[string]Profile{}
	for pname, rp := range raw.Profile {
		pbuild, err := decodeFlagSpec(rp.Build, file, "profile."+pname+".build")
		if err != nil {
			ec.Add(err)
			continue
		}
		profiles[pname] = Profile{Build: pbuild}
	}

	if !ec.OK() {
		return nil, ec.Errors[0]
	}

	return &PackageManifest{
		Package: Package{Name: name, Version: version, Arch: arches},
		Export:  export,
		Build:   build,
		Profile: profiles,
	}, nil
}

// ParsePackageManifestFile opens and decodes path.
func ParsePackageManifestFile(path string) (*PackageManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePackageManifest(f, path)
}

// normalizeArchField accepts the package.arch key as absent, a bare
// string, or a list of strings.
func normalizeArchField(raw interface{}) ([]arch.Arch, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		a, ok := arch.Parse(v)
		if !ok {
			return nil, codutil.NewFormatError("unknown architecture %q", v)
		}
		return []arch.Arch{a}, nil
	case []interface{}:
		out := make([]arch.Arch, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, codutil.NewFormatError("architecture list must contain strings")
			}
			a, ok := arch.Parse(s)
			if !ok {
				return nil, codutil.NewFormatError("unknown architecture %q", s)
			}
			out = append(out, a)
		}
		return out, nil
	default:
		return nil, codutil.NewFormatError("expected a string or list of strings")
	}
}

// Repo is one [repo.<name>] table of a project manifest. Type selects
// which repository implementation to construct (see internal/repo's
// compile-time type registry); Extra carries the implementation-specific
// remaining keys verbatim.
type Repo struct {
	Type  string
	Extra map[string]interface{}
}

// ProjectManifest is a fully decoded project-root cod.toml.
type ProjectManifest struct {
	Build FlagSpec
	Repo  map[string]Repo
}

type rawProjectManifest struct {
	Project struct{}
	Build   interface{}
	Repo    map[string]map[string]interface{}
}

// ParseProjectManifest decodes and validates a project-root cod.toml.
func ParseProjectManifest(r io.Reader, file string) (*ProjectManifest, error) {
	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var raw rawProjectManifest
	if _, err := toml.Decode(string(blob), &raw); err != nil {
		return nil, &codutil.ManifestError{File: file, Err: err}
	}

	ec := &codutil.ErrorCollector{}

	build, err := decodeFlagSpec(raw.Build, file, "build")
	ec.Add(err)

	repos := map[string]Repo{}
	for name, table := range raw.Repo {
		typ, _ := table["type"].(string)
		if typ == "" {
			ec.Add(&codutil.ManifestError{File: file, Field: "repo." + name + ".type", Err: codutil.NewFormatError("missing repository type")})
			continue
		}
		extra := map[string]interface{}{}
		for k, v := range table {
			if k != "type" {
				extra[k] = v
			}
		}
		repos[name] = Repo{Type: typ, Extra: extra}
	}

	if !ec.OK() {
		return nil, ec.Errors[0]
	}

	return &ProjectManifest{Build: build, Repo: repos}, nil
}

// ParseProjectManifestFile opens and decodes path.
func ParseProjectManifestFile(path string) (*ProjectManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseProjectManifest(f, path)
}
