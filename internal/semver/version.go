// Copyright 2025 James Ross
// Package semver parses and compares the plugin version scheme used across
// the daemon: an ordered (major, minor, patch) tuple plus an optional
// pre-release suffix.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// FallbackVersion is substituted whenever a plugin's manifest is missing a
// version or carries one that fails to parse.
const FallbackVersion = "0.0.0"

// Version is a parsed, comparable plugin version.
type Version struct {
	Major, Minor, Patch int
	PreRelease          string
	raw                 string
}

// ParsingError is raised when a version or requirement atom is malformed.
type ParsingError struct {
	Input string
	Cause string
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Cause)
}

// Parse accepts "X", "X.Y", "X.Y.Z", each with an optional "-prerelease"
// suffix. allowWildcard controls whether a bare "*" parses to the zero
// Version; plugin metadata and requirement atoms both pass false
// (ParseRequirement handles a bare "*" atom itself).
func Parse(input string, allowWildcard bool) (Version, error) {
	s := strings.TrimSpace(input)
	if s == "*" {
		if allowWildcard {
			return Version{raw: "*"}, nil
		}
		return Version{}, &ParsingError{Input: input, Cause: "wildcard not allowed here"}
	}

	main, pre, _ := strings.Cut(s, "-")
	parts := strings.Split(main, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return Version{}, &ParsingError{Input: input, Cause: "expected X, X.Y or X.Y.Z"}
	}

	nums := [3]int{0, 0, 0}
	for i, p := range parts {
		if p == "" {
			return Version{}, &ParsingError{Input: input, Cause: "empty version component"}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, &ParsingError{Input: input, Cause: fmt.Sprintf("component %q is not a non-negative integer", p)}
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], PreRelease: pre, raw: s}, nil
}

// MustParse is a test/constant helper; it panics on error.
func MustParse(input string) Version {
	v, err := Parse(input, false)
	if err != nil {
		panic(err)
	}
	return v
}

// Fallback returns the sentinel version used when metadata omits one.
func Fallback() Version {
	return MustParse(FallbackVersion)
}

// String renders the version back in canonical form.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	return s
}

// tuple returns the ordered comparison key: the numeric tuple, then a flag
// for "has pre-release" (pre-release ranks below release at an equal tuple).
func (v Version) tuple() (int, int, int, bool) {
	return v.Major, v.Minor, v.Patch, v.PreRelease != ""
}

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	am, ai, ap, ahasPre := v.tuple()
	bm, bi, bp, bhasPre := o.tuple()
	for _, pair := range [][2]int{{am, bm}, {ai, bi}, {ap, bp}} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	switch {
	case ahasPre == bhasPre:
		return strings.Compare(v.PreRelease, o.PreRelease)
	case ahasPre:
		return -1
	default:
		return 1
	}
}

func (v Version) Less(o Version) bool    { return v.Compare(o) < 0 }
func (v Version) Equal(o Version) bool   { return v.Compare(o) == 0 }
func (v Version) Greater(o Version) bool { return v.Compare(o) > 0 }
