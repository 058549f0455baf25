package upgrade

import (
	"fmt"
	"strconv"
	"strings"
)

// VersionChange classifies the delta between two broker versions.
type VersionChange string

const (
	// VersionChangeNone indicates the versions are identical.
	VersionChangeNone VersionChange = "None"
	// VersionChangePatch indicates a patch-level upgrade (e.g., 1.4.0 -> 1.4.1).
	VersionChangePatch VersionChange = "Patch"
	// VersionChangeMinor indicates a minor-level upgrade (e.g., 1.4.0 -> 1.5.0).
	VersionChangeMinor VersionChange = "Minor"
	// VersionChangeMajor indicates a major-level upgrade (e.g., 1.x -> 2.x).
	VersionChangeMajor VersionChange = "Major"
	// VersionChangeDowngrade indicates the target version is older.
	VersionChangeDowngrade VersionChange = "Downgrade"
)

// SemVer is a parsed semantic version.
type SemVer struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
	Build      string
}

// String returns the canonical string form of the version.
func (v SemVer) String() string {
	version := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		version += "-" + v.Prerelease
	}
	if v.Build != "" {
		version += "+" + v.Build
	}
	return version
}

// ParseVersion parses a semantic version string. An optional leading "v",
// a prerelease suffix ("1.4.0-rc1"), and build metadata ("1.4.0+build7")
// are all accepted.
func ParseVersion(version string) (*SemVer, error) {
	if version == "" {
		return nil, fmt.Errorf("version string is empty")
	}

	version = strings.TrimPrefix(version, "v")

	var build string
	if idx := strings.Index(version, "+"); idx != -1 {
		build = version[idx+1:]
		version = version[:idx]
	}

	var prerelease string
	if idx := strings.Index(version, "-"); idx != -1 {
		prerelease = version[idx+1:]
		version = version[:idx]
	}

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid version format %q: expected MAJOR.MINOR.PATCH", version)
	}

	fields := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid version component %q: %w", part, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("version component cannot be negative: %d", n)
		}
		fields[i] = n
	}

	return &SemVer{
		Major:      fields[0],
		Minor:      fields[1],
		Patch:      fields[2],
		Prerelease: prerelease,
		Build:      build,
	}, nil
}

// ValidateVersion returns an error when the string is not valid semver.
func ValidateVersion(version string) error {
	_, err := ParseVersion(version)
	return err
}

// CompareVersions classifies the change from one version string to another.
func CompareVersions(from, to string) (VersionChange, error) {
	fromVer, err := ParseVersion(from)
	if err != nil {
		return VersionChangeNone, fmt.Errorf("invalid 'from' version: %w", err)
	}

	toVer, err := ParseVersion(to)
	if err != nil {
		return VersionChangeNone, fmt.Errorf("invalid 'to' version: %w", err)
	}

	if toVer.Major < fromVer.Major {
		return VersionChangeDowngrade, nil
	}
	if toVer.Major > fromVer.Major {
		return VersionChangeMajor, nil
	}

	if toVer.Minor < fromVer.Minor {
		return VersionChangeDowngrade, nil
	}
	if toVer.Minor > fromVer.Minor {
		return VersionChangeMinor, nil
	}

	if toVer.Patch < fromVer.Patch {
		return VersionChangeDowngrade, nil
	}
	if toVer.Patch > fromVer.Patch {
		return VersionChangePatch, nil
	}

	// Core versions are equal. A prerelease has lower precedence than the
	// release it precedes, so 1.4.0-rc1 -> 1.4.0 is an upgrade.
	if fromVer.Prerelease != "" && toVer.Prerelease == "" {
		return VersionChangePatch, nil
	}
	if fromVer.Prerelease == "" && toVer.Prerelease != "" {
		return VersionChangeDowngrade, nil
	}
	if fromVer.Prerelease != toVer.Prerelease {
		// Lexicographic comparison; simplified relative to full semver rules.
		if toVer.Prerelease < fromVer.Prerelease {
			return VersionChangeDowngrade, nil
		}
		return VersionChangePatch, nil
	}

	return VersionChangeNone, nil
}

// IsDowngrade reports whether moving from 'from' to 'to' would run an older
// broker. Unparseable versions are not treated as downgrades.
func IsDowngrade(from, to string) bool {
	change, err := CompareVersions(from, to)
	if err != nil {
		return false
	}
	return change == VersionChangeDowngrade
}

// IsUpgrade reports whether moving from 'from' to 'to' runs a newer broker.
func IsUpgrade(from, to string) bool {
	change, err := CompareVersions(from, to)
	if err != nil {
		return false
	}
	return change == VersionChangePatch || change == VersionChangeMinor || change == VersionChangeMajor
}

// IsSkipMinorUpgrade reports whether the upgrade skips at least one minor
// release within the same major line (e.g., 1.4.0 -> 1.6.0 skips 1.5.x).
// Segment-format migrations are only guaranteed between adjacent minors, so
// callers log a warning for these.
func IsSkipMinorUpgrade(from, to string) bool {
	fromVer, err := ParseVersion(from)
	if err != nil {
		return false
	}

	toVer, err := ParseVersion(to)
	if err != nil {
		return false
	}

	if fromVer.Major != toVer.Major {
		return false
	}

	return toVer.Minor-fromVer.Minor > 1
}
