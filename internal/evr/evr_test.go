package evr

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want EVR
	}{
		{"1.2.3", EVR{Version: "1.2.3"}},
		{"1.2.3-4", EVR{Version: "1.2.3", Release: "4"}},
		{"2:1.2.3-4", EVR{Epoch: 2, Version: "1.2.3", Release: "4"}},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
		}
		if got.String() != c.in {
			t.Errorf("String() round-trip = %q, want %q", got.String(), c.in)
		}
	}
}

func TestParseRejectsMissingVersion(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatalf("expected error for empty EVR")
	}
	if _, err := Parse("bogus:"); err == nil {
		t.Fatalf("expected error for bogus epoch")
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.0.1", "1.0.0", 1},
		{"1.2", "1.10", -1},
		{"1:1.0", "2.0", 1},
		{"1.0-1", "1.0-2", -1},
		{"1.0a", "1.0", 1},
		{"1.0", "1.0.0", -1},
		{"1.0.0", "1.0.0a", -1},
		{"0010", "10", 0},
	}
	for _, c := range cases {
		a, err := Parse(c.a)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.a, err)
		}
		b, err := Parse(c.b)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.b, err)
		}
		got := Compare(a, b)
		got = sign(got)
		if got != c.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
		if Less(a, b) != (c.want < 0) {
			t.Errorf("Less(%q, %q) = %v, want %v", c.a, c.b, Less(a, b), c.want < 0)
		}
		if Equal(a, b) != (c.want == 0) {
			t.Errorf("Equal(%q, %q) = %v, want %v", c.a, c.b, Equal(a, b), c.want == 0)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
