// Package resolver turns a project's declared capability needs (missing
// headers, undefined symbols, explicit package requests) into lockfile
// entries: it builds the sat solver's universe from every configured
// repository's currently-available packages, and records whatever the
// solver selects.
package resolver

import (
	"sort"

	"github.com/cod-build/cod/internal/arch"
	"github.com/cod-build/cod/internal/capability"
	"github.com/cod-build/cod/internal/codutil"
	"github.com/cod-build/cod/internal/evr"
	"github.com/cod-build/cod/internal/lock"
	"github.com/cod-build/cod/internal/pkgprofile"
	"github.com/cod-build/cod/internal/repo"
	"github.com/cod-build/cod/internal/resolver/sat"
)

// Resolver ties a project's repositories and its per-profile lockfile to
// the solver.
type Resolver struct {
	Repos map[string]repo.Repository
	Lock  *lock.File
}

// New builds a Resolver over the given repositories and lockfile.
func New(repos map[string]repo.Repository, lockFile *lock.File) *Resolver {
	return &Resolver{Repos: repos, Lock: lockFile}
}

// universe lists every package currently available from every repository
// as a sat.Solvable. Each capability the package provides that is
// Exclusive() is also added to its own conflicts, forcing the solver to
// accept at most one provider of it across the whole solution.
func (r *Resolver) universe() (*sat.Universe, error) {
	var solvables []*sat.Solvable
	for name, repository := range r.Repos {
		ids, err := repository.List()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			info, err := repository.GetInfo(id)
			if err != nil {
				return nil, err
			}
			solvables = append(solvables, toSolvable(name, info))
		}
	}
	return sat.NewUniverse(latestPerName(solvables)), nil
}

// toSolvable builds a sat.Solvable from a decoded artifact. Beyond the
// capabilities the package build recorded (headers, symbols, the archive
// name, explicit Provides/Requires/Conflicts), every package also
// self-provides its own bare name and "name = evr" selector, and
// self-obsoletes that name: this is what lets `cod install <pkg>` resolve
// by plain package name, and what makes two builds of the same package
// mutually exclusive candidates rather than independent ones, mirroring
// cod.lock.py's add_package, which derives both relations from the
// package id rather than from its on-disk provides list.
func toSolvable(vendor string, a *repo.Artifact) *sat.Solvable {
	provides := append([]string{}, a.Provides...)
	conflicts := append([]string{}, a.Conflicts...)

	if id, err := pkgprofile.ParseID(a.ID); err == nil {
		name := capability.Selector(id.Name).String()
		versioned := capability.Selector(id.Name + " = " + id.EVR.String()).String()
		provides = appendUnique(provides, name, versioned)
		// Self-obsoletes: no other build providing this package's own name
		// (an older EVR of itself, or anything declaring Obsoletes: name)
		// may coexist with this one once it is selected.
		conflicts = appendUnique(conflicts, name)
	}

	for _, p := range a.Provides {
		if cap, err := capability.Parse(p); err == nil && cap.Exclusive() {
			conflicts = appendUnique(conflicts, p)
		}
	}
	return &sat.Solvable{
		ID:        a.ID,
		Vendor:    vendor,
		Provides:  provides,
		Requires:  a.Requires,
		Conflicts: conflicts,
	}
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

// latestPerName drops every solvable that is obsoleted by a strictly newer
// build of the same (name, arch) present in the same universe, so the
// solver only ever sees one candidate per package identity: encountering
// two EVRs of the same library exporting the same header is resolved by
// silently preferring the newer one instead of refusing as ambiguous.
// Builds already recorded in a lockfile go through alreadySelected
// instead of this path, so an older EVR a profile is explicitly pinned to
// remains installable even after a newer build appears in the universe.
func latestPerName(solvables []*sat.Solvable) []*sat.Solvable {
	type key struct {
		name string
		arch arch.Arch
	}
	bestEVR := map[key]evr.EVR{}
	bestID := map[key]string{}
	byID := map[string]*sat.Solvable{}

	for _, s := range solvables {
		byID[s.ID] = s
		id, err := pkgprofile.ParseID(s.ID)
		if err != nil {
			// Not a "name-evr.arch" id (e.g. a hand-authored fixture): keep
			// it verbatim, keyed on its own id so it never collides with a
			// real package's dedup key.
			bestID[key{name: s.ID}] = s.ID
			continue
		}
		k := key{name: id.Name, arch: id.Arch}
		if prev, ok := bestEVR[k]; !ok || evr.Compare(id.EVR, prev) > 0 {
			bestEVR[k] = id.EVR
			bestID[k] = s.ID
		}
	}

	out := make([]*sat.Solvable, 0, len(bestID))
	for _, id := range bestID {
		out = append(out, byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// alreadySelected returns the sat.Solvable form of a profile section's
// current lockfile entries.
func (r *Resolver) alreadySelected(section string) ([]*sat.Solvable, error) {
	var out []*sat.Solvable
	for _, e := range r.Lock.Get(section) {
		repository, ok := r.Repos[e.Repo]
		if !ok {
			return nil, codutil.NewFormatError("lockfile section %q references unknown repo %q", section, e.Repo)
		}
		info, err := repository.GetInfo(e.PkgID)
		if err != nil {
			return nil, err
		}
		out = append(out, toSolvable(e.Repo, info))
	}
	return out, nil
}

// Install resolves wants against section's current lockfile contents. It
// fetches and records any newly-selected packages, and reports whether the
// lockfile changed: the symbol-resolution loop in internal/workspace uses
// this to detect that a retry made no progress and must stop.
func (r *Resolver) Install(section string, wants []string) (dirty bool, err error) {
	if len(wants) == 0 {
		return false, nil
	}

	universe, err := r.universe()
	if err != nil {
		return false, err
	}
	already, err := r.alreadySelected(section)
	if err != nil {
		return false, err
	}

	jobs := make([]sat.Job, len(wants))
	for i, w := range wants {
		jobs[i] = sat.Job{Want: w}
	}

	result, problems, alts := sat.Solve(universe, already, jobs)
	if alts != nil {
		return false, &codutil.AmbiguityError{Capability: alts.Want, Candidates: alts.Candidates}
	}
	if len(problems) > 0 {
		descs := make([]string, len(problems))
		for i, p := range problems {
			descs[i] = p.String()
		}
		return false, &codutil.ResolverProblem{Problems: descs}
	}
	if len(result.Selected) == 0 {
		return false, nil
	}

	entries := r.Lock.Get(section)
	for _, s := range result.Selected {
		if err := r.Repos[s.Vendor].Fetch(s.ID); err != nil {
			return false, err
		}
		entries = append(entries, lock.Entry{PkgID: s.ID, Repo: s.Vendor})
	}
	r.Lock.Set(section, entries)
	return true, nil
}

// InstallProvides installs whatever packages provide the given
// capabilities (typically a profile's include-dependency closure).
func (r *Resolver) InstallProvides(section string, caps []capability.Capability) (bool, error) {
	return r.Install(section, capabilityStrings(caps))
}

// InstallFromSymbols installs whatever packages provide the given
// undefined linker symbols.
func (r *Resolver) InstallFromSymbols(section string, symbols []string) (bool, error) {
	wants := make([]string, len(symbols))
	for i, s := range symbols {
		wants[i] = capability.Symbol(s).String()
	}
	return r.Install(section, wants)
}

// InstallPackages installs packages by selector (a plain package name),
// e.g. for an explicit `cod install <pkg>` request.
func (r *Resolver) InstallPackages(section string, names []string) (bool, error) {
	return r.Install(section, names)
}

func capabilityStrings(caps []capability.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = c.String()
	}
	return out
}

// Packages returns a profile section's installed (pkgid, repo) pairs,
// sorted by pkgid for deterministic build-graph emission.
func (r *Resolver) Packages(section string) []lock.Entry {
	entries := append([]lock.Entry{}, r.Lock.Get(section)...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].PkgID < entries[j].PkgID })
	return entries
}
