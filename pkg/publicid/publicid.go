// Package publicid generates the external-facing handles attached to every
// domain record. A public ID is assigned exactly once at creation, is never
// the storage key, and is treated as an opaque string by clients.
package publicid

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Known entity prefixes. The prefix is cosmetic; lookups never parse it.
const (
	PrefixUser      = "USR"
	PrefixCourse    = "CRS"
	PrefixTerm      = "TRM"
	PrefixSection   = "SEC"
	PrefixCourseLog = "LOG"
	PrefixComplain  = "CMP"
	PrefixReport    = "RPT"
)

const entropyChars = 20

// New returns a fresh public identifier of the form PREFIX-xxxxxxxx....
func New(prefix string) string {
	raw := uuid.New()
	body := hex.EncodeToString(raw[:])[:entropyChars]
	if prefix == "" {
		return body
	}
	return prefix + "-" + body
}

// Valid reports whether a caller-supplied string looks like an identifier we
// could have issued. Used only to reject obviously malformed path params
// early; existence checks stay with the repositories.
func Valid(id string) bool {
	if id == "" || len(id) > 30 {
		return false
	}
	for _, r := range id {
		ok := r == '-' ||
			(r >= '0' && r <= '9') ||
			(r >= 'a' && r <= 'f') ||
			(r >= 'A' && r <= 'Z')
		if !ok {
			return false
		}
	}
	return strings.Count(id, "-") <= 1
}
