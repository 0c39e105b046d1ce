package pkgprofile

import (
	"testing"

	"github.com/cod-build/cod/internal/arch"
)

func TestParseIDRoundTrip(t *testing.T) {
	id, err := ParseID("zlib-1.2.13-2.x86_64")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if id.Name != "zlib" || id.EVR.Version != "1.2.13" || id.EVR.Release != "2" || id.Arch != arch.X86_64 {
		t.Fatalf("id = %+v", id)
	}
	if id.String() != "zlib-1.2.13-2.x86_64" {
		t.Fatalf("String() = %q", id.String())
	}
}

func TestParseIDWithEpoch(t *testing.T) {
	id, err := ParseID("zlib-1:1.2.13-2.noarch")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if id.EVR.Epoch != 1 || id.Arch != arch.Noarch {
		t.Fatalf("id = %+v", id)
	}
}

func TestParseIDMalformed(t *testing.T) {
	for _, s := range []string{"noarch-missing-dash", "missingarch-1.0-1"} {
		if _, err := ParseID(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}
