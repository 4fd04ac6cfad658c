// Package version parses and compares signing application versions.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Fallback is assumed when the device does not report an application version.
const Fallback = "1.6.1"

// AppVersion is a parsed "major.minor.patch" application version.
type AppVersion struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Parse parses a "major.minor.patch" version string.
func Parse(s string) (AppVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return AppVersion{}, fmt.Errorf("invalid version %q: expected major.minor.patch", s)
	}

	var nums [3]uint16
	for i, name := range []string{"major", "minor", "patch"} {
		n, err := strconv.ParseUint(parts[i], 10, 16)
		if err != nil || parts[i] == "" {
			return AppVersion{}, fmt.Errorf("invalid version %q: bad %s component", s, name)
		}
		nums[i] = uint16(n)
	}

	return AppVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// ParseOrFallback parses s, using Fallback when s is empty or malformed.
func ParseOrFallback(s string) AppVersion {
	if v, err := Parse(s); err == nil {
		return v
	}
	v, _ := Parse(Fallback)
	return v
}

// String returns the version as "major.minor.patch".
func (v AppVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 when v is older than, equal to or newer than other.
func (v AppVersion) Compare(other AppVersion) int {
	switch {
	case v.Major != other.Major:
		return cmp(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmp(v.Minor, other.Minor)
	default:
		return cmp(v.Patch, other.Patch)
	}
}

// AtLeast returns true if v is the same as or newer than major.minor.patch.
func (v AppVersion) AtLeast(major, minor, patch uint16) bool {
	return v.Compare(AppVersion{Major: major, Minor: minor, Patch: patch}) >= 0
}

// IsZero returns true for the zero value, meaning no version is known yet.
func (v AppVersion) IsZero() bool {
	return v == AppVersion{}
}

func cmp(a, b uint16) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
