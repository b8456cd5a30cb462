package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is an opaque "vX.Y" API version token. Ordering is
// lexicographic on the two integer components
type Version string

const (
	V10 Version = "v1.0"
	V11 Version = "v1.1"
	V12 Version = "v1.2"
)

// Versions lists every supported version, oldest first.
var Versions = []Version{V10, V11, V12}

// components parses the "X.Y" out of "vX.Y".
func (v Version) components() (int, int, error) {
	s := strings.TrimPrefix(string(v), "v")
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed API version %q", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed API version %q: %w", v, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed API version %q: %w", v, err)
	}
	return major, minor, nil
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than other. Malformed versions compare as 0 (treated equal) since
// callers only ever pass catalogue-validated versions.
func (v Version) Compare(other Version) int {
	aMaj, aMin, errA := v.components()
	bMaj, bMin, errB := other.components()
	if errA != nil || errB != nil {
		return 0
	}
	if aMaj != bMaj {
		if aMaj < bMaj {
			return -1
		}
		return 1
	}
	if aMin != bMin {
		if aMin < bMin {
			return -1
		}
		return 1
	}
	return 0
}

func (v Version) LessThan(other Version) bool    { return v.Compare(other) < 0 }
func (v Version) GreaterThan(other Version) bool  { return v.Compare(other) > 0 }
func (v Version) Equal(other Version) bool        { return v.Compare(other) == 0 }
func (v Version) AtLeast(other Version) bool       { return v.Compare(other) >= 0 }

// Valid reports whether v is one of the supported catalogue versions.
func Valid(v Version) bool {
	for _, supported := range Versions {
		if supported == v {
			return true
		}
	}
	return false
}
