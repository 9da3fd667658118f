package version

import (
	"strings"
	"testing"
)

func TestCurrentMatchesInfo(t *testing.T) {
	v, c, d := Info()
	b := Current()

	if b.Version != v || b.Commit != c || b.Date != d {
		t.Fatalf("Current() = %+v, Info() = (%s, %s, %s)", b, v, c, d)
	}
	if b.Version == "" || b.Commit == "" || b.Date == "" {
		t.Fatalf("build info has empty fields: %+v", b)
	}
}

func TestStringIsLogFriendly(t *testing.T) {
	s := String()
	for _, want := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
