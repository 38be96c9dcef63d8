package semver

import (
	"testing"
)

func TestSatisfiesRange(t *testing.T) {
	tests := []struct {
		name    string
		version string
		rng     string
		want    bool
	}{
		{"empty range accepts anything", "1.2.3", "", true},
		{"empty range accepts unversioned", "", "", true},
		{"unversioned rejects a range", "", "1", false},
		{"major only match", "1.4.0", "1", true},
		{"major only mismatch", "2.0.0", "1", false},
		{"caret match", "1.4.0", "^1.2", true},
		{"caret mismatch", "2.0.0", "^1.2", false},
		{"tilde match", "1.2.9", "~1.2.0", true},
		{"tilde mismatch", "1.3.0", "~1.2.0", false},
		{"comparison", "3.0.0", ">=2.0.0", true},
		{"exact", "1.0.0", "1.0.0", true},
		{"invalid version", "not-a-version", "1", false},
		{"invalid range", "1.0.0", "^^", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SatisfiesRange(tt.version, tt.rng); got != tt.want {
				t.Errorf("semver:resolver_test - SatisfiesRange(%q, %q) = %v, want %v", tt.version, tt.rng, got, tt.want)
			}
		})
	}
}

func TestValidateVersion(t *testing.T) {
	for _, v := range []string{"", "1.0.0", "2.3.4-beta.1"} {
		if err := ValidateVersion(v); err != nil {
			t.Errorf("semver:resolver_test - ValidateVersion(%q) unexpected error: %v", v, err)
		}
	}
	if err := ValidateVersion("one.two"); err == nil {
		t.Error("semver:resolver_test - expected error for one.two")
	}
}

func TestValidateRange(t *testing.T) {
	for _, r := range []string{"", "1", "^1.2", ">=1.0.0 <2.0.0"} {
		if err := ValidateRange(r); err != nil {
			t.Errorf("semver:resolver_test - ValidateRange(%q) unexpected error: %v", r, err)
		}
	}
	if err := ValidateRange("^^"); err == nil {
		t.Error("semver:resolver_test - expected error for ^^")
	}
}
