package semver

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// ValidateVersion checks that v is a semantic version. An empty version is valid
// and means the contract is unversioned.
func ValidateVersion(v string) error {
	if v == "" {
		return nil
	}
	if _, err := masterminds.NewVersion(v); err != nil {
		return fmt.Errorf("%s - invalid version %q: %w", resolverLogPrefix, v, err)
	}
	return nil
}

// ValidateRange checks that rangeStr is a major-only specifier or a semver constraint.
func ValidateRange(rangeStr string) error {
	if rangeStr == "" || IsMajorOnly(rangeStr) {
		return nil
	}
	if _, err := masterminds.NewConstraint(rangeStr); err != nil {
		return fmt.Errorf("%s - invalid range %q: %w", resolverLogPrefix, rangeStr, err)
	}
	return nil
}

// SatisfiesRange checks if a version string satisfies a range. An empty range
// accepts every version; an unversioned contract satisfies only an empty range.
func SatisfiesRange(version, rangeStr string) bool {
	if rangeStr == "" {
		return true
	}
	if version == "" {
		return false
	}

	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}

	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}
