package sat

import "testing"

func TestSolveForcedChain(t *testing.T) {
	zlib := &Solvable{ID: "zlib-1.0-1.x86_64", Provides: []string{"<zlib.h>", "libz.a", "(deflate)"}}
	u := NewUniverse([]*Solvable{zlib})

	result, problems, alts := Solve(u, nil, []Job{{Want: "<zlib.h>"}})
	if alts != nil {
		t.Fatalf("unexpected alternatives: %+v", alts)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %+v", problems)
	}
	if len(result.Selected) != 1 || result.Selected[0].ID != zlib.ID {
		t.Fatalf("result = %+v", result)
	}
}

func TestSolveTransitiveRequires(t *testing.T) {
	libc := &Solvable{ID: "libc-1.0-1.x86_64", Provides: []string{"(malloc)"}}
	app := &Solvable{ID: "app-1.0-1.x86_64", Provides: []string{"libapp.a"}, Requires: []string{"(malloc)"}}
	u := NewUniverse([]*Solvable{libc, app})

	result, problems, alts := Solve(u, nil, []Job{{Want: "libapp.a"}})
	if alts != nil || len(problems) != 0 {
		t.Fatalf("alts=%+v problems=%+v", alts, problems)
	}
	if len(result.Selected) != 2 {
		t.Fatalf("expected both app and libc selected, got %+v", result.Selected)
	}
}

func TestSolveUnresolvedProblem(t *testing.T) {
	u := NewUniverse(nil)
	_, problems, alts := Solve(u, nil, []Job{{Want: "(missing_symbol)"}})
	if alts != nil {
		t.Fatalf("unexpected alternatives: %+v", alts)
	}
	if len(problems) != 1 || problems[0].Want != "(missing_symbol)" {
		t.Fatalf("problems = %+v", problems)
	}
}

func TestSolveAmbiguousAlternatives(t *testing.T) {
	a := &Solvable{ID: "a-1.0-1.x86_64", Provides: []string{"ssl"}}
	b := &Solvable{ID: "b-1.0-1.x86_64", Provides: []string{"ssl"}}
	u := NewUniverse([]*Solvable{a, b})

	result, problems, alts := Solve(u, nil, []Job{{Want: "ssl"}})
	if result != nil || problems != nil {
		t.Fatalf("expected alternatives refusal, got result=%+v problems=%+v", result, problems)
	}
	if alts == nil || len(alts.Candidates) != 2 {
		t.Fatalf("alts = %+v", alts)
	}
}

func TestSolveAlreadySatisfiedSelectsNothing(t *testing.T) {
	old := &Solvable{ID: "zlib-1.0-1.x86_64", Provides: []string{"<zlib.h>"}}
	newer := &Solvable{ID: "zlib-1.2-1.x86_64", Provides: []string{"<zlib.h>"}}
	u := NewUniverse([]*Solvable{old, newer})

	result, _, alts := Solve(u, []*Solvable{old}, []Job{{Want: "<zlib.h>"}})
	if alts != nil {
		t.Fatalf("unexpected alternatives: %+v", alts)
	}
	if len(result.Selected) != 0 {
		t.Fatalf("expected already-satisfied capability to select nothing new, got %+v", result.Selected)
	}
}
