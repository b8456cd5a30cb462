// Package ids provides UUID canonicalisation and the process-stable
// identity used to stamp outgoing change grains.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Canonicalise lowercases a UUID string. Values that don't parse as a
// UUID are returned unmodified (the modifier only touches well-formed
// identifiers, per nmosregistration/modifier.py's UuidModifier).
func Canonicalise(v string) string {
	lowered := strings.ToLower(v)
	if _, err := uuid.Parse(lowered); err != nil {
		return v
	}
	return lowered
}

// IsZero reports whether v is the all-zero UUID.
func IsZero(v string) bool {
	return strings.ToLower(v) == "00000000-0000-0000-0000-000000000000"
}

// ProcessIdentity is a UUID generated once per process and used as the
// source_id of every grain this process emits, so subscribers can tell
// apart messages originating from the same query instance across
// reconnects.
var ProcessIdentity = uuid.New().String()
