package util

import (
	"time"
)

// VersionLayout formats model versions. Versions sort lexically in time order.
const VersionLayout = "20060102T150405Z"

// FormatVersion renders t in UTC as a model version string.
func FormatVersion(t time.Time) string {
	return t.UTC().Format(VersionLayout)
}

// ParseVersion parses a model version string. Returns (t, true) if it worked.
func ParseVersion(s string) (time.Time, bool) {
	if len(s) != len(VersionLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(VersionLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsVersion reports whether s is a well-formed model version.
func IsVersion(s string) bool {
	_, ok := ParseVersion(s)
	return ok
}
