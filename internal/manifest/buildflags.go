package manifest

import (
	"sort"

	"github.com/cod-build/cod/internal/arch"
	"github.com/cod-build/cod/internal/codutil"
)

// BuildFlags is the flag bundle a package or profile can attach to a build:
// compiler, assembler and linker flags, an optional exported linker script,
// and an optional archive/executable output format override.
type BuildFlags struct {
	CFlags       []string
	SFlags       []string
	LDFlags      []string
	LinkerScript string
	Format       string
}

var flagKeys = map[string]bool{
	"cflags": true, "sflags": true, "ldflags": true,
	"linker-script": true, "format": true,
}

// Combine implements the "⊕" combinator: flag lists append, and
// linker-script/format are "other wins" — b's value is used when set, else
// a's. a's lists come first so later fragments (profile overrides) extend
// rather than replace a package's own flags.
func Combine(a, b BuildFlags) BuildFlags {
	out := BuildFlags{
		CFlags:       append(append([]string{}, a.CFlags...), b.CFlags...),
		SFlags:       append(append([]string{}, a.SFlags...), b.SFlags...),
		LDFlags:      append(append([]string{}, a.LDFlags...), b.LDFlags...),
		LinkerScript: a.LinkerScript,
		Format:       a.Format,
	}
	if b.LinkerScript != "" {
		out.LinkerScript = b.LinkerScript
	}
	if b.Format != "" {
		out.Format = b.Format
	}
	return out
}

// PerArch is an arch-indexed BuildFlags map, keyed by arch.Arch, with
// arch.Noarch as a valid key for flags that apply to every architecture.
type PerArch map[arch.Arch]BuildFlags

// Resolve combines the noarch entry (if any) with the entry for target
// (if any): noarch ⊕ matching_arch. Either may be absent.
func (p PerArch) Resolve(target arch.Arch) BuildFlags {
	return Combine(p[arch.Noarch], p[target])
}

// decodeFlagsOrMap interprets a TOML table value that was declared as
// "either BuildFlags or an arch-indexed map of them": if its keys overlap
// the known BuildFlags field names it's a flat bundle; otherwise every key
// is an architecture (or "noarch") and the value under it is itself a flat
// bundle.
func decodeFlagsOrMap(raw interface{}, file, field string) (flat BuildFlags, perArch PerArch, isMap bool, err error) {
	if raw == nil {
		return BuildFlags{}, nil, false, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return BuildFlags{}, nil, false, &codutil.ManifestError{File: file, Field: field, Err: codutil.NewFormatError("expected a table")}
	}
	if looksLikeFlatFlags(m) {
		flat, err = decodeSingleFlags(m, file, field)
		return flat, nil, false, err
	}

	perArch = PerArch{}
	for key, v := range m {
		a, ok := arch.Parse(key)
		if !ok {
			return BuildFlags{}, nil, false, &codutil.ManifestError{File: file, Field: field, Err: codutil.NewFormatError("unknown architecture %q", key)}
		}
		sub, ok := v.(map[string]interface{})
		if !ok {
			return BuildFlags{}, nil, false, &codutil.ManifestError{File: file, Field: field + "." + key, Err: codutil.NewFormatError("expected a table")}
		}
		flags, err := decodeSingleFlags(sub, file, field+"."+key)
		if err != nil {
			return BuildFlags{}, nil, false, err
		}
		perArch[a] = flags
	}
	return BuildFlags{}, perArch, true, nil
}

func looksLikeFlatFlags(m map[string]interface{}) bool {
	for k := range m {
		if flagKeys[k] {
			return true
		}
	}
	return false
}

func decodeSingleFlags(m map[string]interface{}, file, field string) (BuildFlags, error) {
	var out BuildFlags
	var err error
	if out.CFlags, err = normalizeFlagList(m["cflags"], file, field+".cflags"); err != nil {
		return out, err
	}
	if out.SFlags, err = normalizeFlagList(m["sflags"], file, field+".sflags"); err != nil {
		return out, err
	}
	if out.LDFlags, err = normalizeFlagList(m["ldflags"], file, field+".ldflags"); err != nil {
		return out, err
	}
	if s, ok := m["linker-script"]; ok {
		str, ok := s.(string)
		if !ok {
			return out, &codutil.ManifestError{File: file, Field: field + ".linker-script", Err: codutil.NewFormatError("expected a string")}
		}
		out.LinkerScript = str
	}
	if s, ok := m["format"]; ok {
		str, ok := s.(string)
		if !ok {
			return out, &codutil.ManifestError{File: file, Field: field + ".format", Err: codutil.NewFormatError("expected a string")}
		}
		out.Format = str
	}
	return out, nil
}

// normalizeFlagList accepts either a bare string or a list of strings,
// matching cod.toml's "string or list of strings" flag convention.
func normalizeFlagList(raw interface{}, file, field string) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &codutil.ManifestError{File: file, Field: field, Err: codutil.NewFormatError("expected a string list")}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &codutil.ManifestError{File: file, Field: field, Err: codutil.NewFormatError("expected a string or list of strings")}
	}
}

// SortedArches returns the map's keys in a deterministic order, for
// reproducible ninja fragment emission.
func (p PerArch) SortedArches() []arch.Arch {
	out := make([]arch.Arch, 0, len(p))
	for a := range p {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FlagSpec holds a manifest field declared as "either a flat BuildFlags or
// an arch-indexed map of them", keeping both possible shapes so callers can
// resolve it against whatever architecture they're building for.
type FlagSpec struct {
	Flat    BuildFlags
	PerArch PerArch
	IsMap   bool
}

func decodeFlagSpec(raw interface{}, file, field string) (FlagSpec, error) {
	flat, perArch, isMap, err := decodeFlagsOrMap(raw, file, field)
	if err != nil {
		return FlagSpec{}, err
	}
	return FlagSpec{Flat: flat, PerArch: perArch, IsMap: isMap}, nil
}

// Resolve returns the flags that apply when building for target: the flat
// bundle verbatim if this field wasn't arch-indexed, otherwise
// noarch ⊕ matching_arch from the per-arch map.
func (s FlagSpec) Resolve(target arch.Arch) BuildFlags {
	if !s.IsMap {
		return s.Flat
	}
	return s.PerArch.Resolve(target)
}
