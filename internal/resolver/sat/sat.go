// Package sat implements the narrow constraint solver the resolver needs:
// given a universe of solvables (provides/requires/conflicts over opaque
// capability strings) and a set of install jobs, compute the closure of
// packages that must be added to satisfy them, refusing to guess when a
// capability has more than one acceptable provider.
package sat

import "sort"

// Solvable is one candidate package: the capabilities it offers, the ones
// it needs to function, and the ones whose presence it cannot coexist with.
type Solvable struct {
	ID        string
	Vendor    string // the repo name this candidate came from
	Provides  []string
	Requires  []string
	Conflicts []string
}

// Universe is the full set of known solvables, indexed by the capabilities
// they provide.
type Universe struct {
	solvables []*Solvable
	byCap     map[string][]*Solvable
}

// NewUniverse builds a Universe from the given solvables.
func NewUniverse(solvables []*Solvable) *Universe {
	u := &Universe{byCap: map[string][]*Solvable{}}
	for _, s := range solvables {
		u.solvables = append(u.solvables, s)
		for _, c := range s.Provides {
			u.byCap[c] = append(u.byCap[c], s)
		}
	}
	return u
}

// Providers returns every solvable that provides cap.
func (u *Universe) Providers(cap string) []*Solvable {
	return u.byCap[cap]
}

// Job requests that some capability be made available in the solution.
type Job struct {
	Want string
}

// Problem reports a capability that no solvable in the universe provides.
type Problem struct {
	Want string
}

func (p Problem) String() string {
	return "nothing provides " + p.Want
}

// Alternatives reports that Want can be satisfied by more than one
// solvable and the solver is refusing to pick one on the caller's behalf.
type Alternatives struct {
	Want       string
	Candidates []string
}

// Result is the outcome of a successful solve: every solvable pulled in
// that was not already selected, in the order they were chosen.
type Result struct {
	Selected []*Solvable
}

// Solve computes the closure of jobs over universe, given the solvables
// already considered part of the solution (e.g. a profile's currently
// locked packages). It returns exactly one of: a Result, a non-empty
// Problems list, or an Alternatives refusal.
//
// The algorithm is a plain worklist closure, not a full backtracking
// search: a capability with a forced (single) provider is accepted
// immediately, a capability with zero providers is collected as a
// Problem, and a capability with more than one acceptable provider stops
// the solve immediately as an Alternatives refusal, mirroring this
// system's policy of never auto-choosing between ambiguous packages.
func Solve(universe *Universe, already []*Solvable, jobs []Job) (*Result, []Problem, *Alternatives) {
	selectedByCap := map[string]*Solvable{}
	selectedSet := map[string]*Solvable{}
	for _, s := range already {
		selectedSet[s.ID] = s
		for _, c := range s.Provides {
			selectedByCap[c] = s
		}
	}

	var newly []*Solvable
	var problems []Problem
	var queue []string
	for _, j := range jobs {
		queue = append(queue, j.Want)
	}

	for len(queue) > 0 {
		want := queue[0]
		queue = queue[1:]

		if _, ok := selectedByCap[want]; ok {
			continue
		}

		var candidates []*Solvable
		for _, cand := range universe.Providers(want) {
			if _, ok := selectedSet[cand.ID]; ok {
				continue
			}
			if conflictsWithSelection(cand, selectedByCap, selectedSet) {
				continue
			}
			candidates = append(candidates, cand)
		}

		switch len(candidates) {
		case 0:
			problems = append(problems, Problem{Want: want})
		case 1:
			chosen := candidates[0]
			selectedSet[chosen.ID] = chosen
			for _, c := range chosen.Provides {
				selectedByCap[c] = chosen
			}
			newly = append(newly, chosen)
			queue = append(queue, chosen.Requires...)
		default:
			ids := make([]string, 0, len(candidates))
			for _, c := range candidates {
				ids = append(ids, c.ID)
			}
			sort.Strings(ids)
			return nil, nil, &Alternatives{Want: want, Candidates: ids}
		}
	}

	if len(problems) > 0 {
		return nil, problems, nil
	}
	return &Result{Selected: newly}, nil, nil
}

// conflictsWithSelection reports whether candidate cannot join a solution
// that already contains selectedSet: either because one of its provides
// collides with a capability the selection already relies on, or because
// one of its declared conflicts names a capability the selection already
// provides (in either direction).
func conflictsWithSelection(candidate *Solvable, selectedByCap map[string]*Solvable, selectedSet map[string]*Solvable) bool {
	for _, c := range candidate.Provides {
		if other, ok := selectedByCap[c]; ok && other.ID != candidate.ID {
			return true
		}
	}
	for _, c := range candidate.Conflicts {
		if _, ok := selectedByCap[c]; ok {
			return true
		}
	}
	for _, sel := range selectedSet {
		for _, c := range sel.Conflicts {
			for _, p := range candidate.Provides {
				if c == p {
					return true
				}
			}
		}
	}
	return false
}
