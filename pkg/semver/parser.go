// Package semver provides contract reference parsing and version constraint checks.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// ParsedContractRef holds the parsed components of a contract reference string.
type ParsedContractRef struct {
	// Full contract name (e.g., "DataContract.IService")
	Full string
	// Namespace before the last dot (e.g., "DataContract"); empty for a bare name
	Namespace string
	// Name after the last dot (e.g., "IService")
	Name string
	// Version range if specified (e.g., "^1.2.0", "1", ""); empty string means any version
	Range string
	// Raw input string
	Raw string
}

var (
	contractNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseContractRef parses a contract reference string.
//
// Supported formats:
//   - DataContract.IService           (any version)
//   - DataContract.IService@1         (major only)
//   - DataContract.IService@1.2.3     (exact version)
//   - DataContract.IService@^1.2.0    (caret range)
//   - DataContract.IService@>=1.0.0   (comparison range)
func ParseContractRef(input string) (*ParsedContractRef, error) {
	raw := strings.TrimSpace(input)

	namePart, rangeStr, _ := strings.Cut(raw, "@")
	if !ValidateContractName(namePart) {
		return nil, fmt.Errorf("%s - invalid contract name: %q", logPrefix, raw)
	}

	ref := &ParsedContractRef{Full: namePart, Name: namePart, Range: rangeStr, Raw: raw}
	if i := strings.LastIndex(namePart, "."); i >= 0 {
		ref.Namespace = namePart[:i]
		ref.Name = namePart[i+1:]
	}
	return ref, nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// BuildContractRef builds a contract reference string from parts.
func BuildContractRef(name, version string) string {
	if version != "" {
		return name + "@" + version
	}
	return name
}

// ValidateContractName validates a dotted contract name.
func ValidateContractName(name string) bool {
	return contractNameRegex.MatchString(name)
}
