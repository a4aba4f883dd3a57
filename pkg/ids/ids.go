// Package ids implements the opaque identifier, version comparison and
// canonical resource-string primitives shared by every other package:
// §3 of the specification requires every entity be keyed by a non-blank
// opaque string and every resource quantity be expressible in a small
// fixed grammar ("500m" CPU millicores, "512Mi" memory).
package ids

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
)

// New generates a fresh opaque identifier.
func New() string {
	return uuid.New().String()
}

// Validate rejects a blank identifier; every entity id in the system
// must pass this before being persisted.
func Validate(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return apierrors.NewValidation(field, "must not be blank")
	}
	return nil
}

// CompareVersions compares two semver-like strings lexicographically on
// their dotted numeric components, as required by §3 ("Versions are
// semver strings compared lexicographically on dotted numeric
// components"). Returns -1, 0 or 1. Non-numeric components compare as
// equal-weight strings so a malformed segment degrades gracefully
// instead of panicking.
func CompareVersions(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")

	for i := 0; i < len(pa) || i < len(pb); i++ {
		var na, nb int
		var hasA, hasB bool

		if i < len(pa) {
			if n, err := strconv.Atoi(pa[i]); err == nil {
				na = n
				hasA = true
			}
		}
		if i < len(pb) {
			if n, err := strconv.Atoi(pb[i]); err == nil {
				nb = n
				hasB = true
			}
		}

		switch {
		case hasA && hasB:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case i >= len(pa):
			return -1
		case i >= len(pb):
			return 1
		default:
			// Non-numeric components: fall back to a direct string
			// comparison of the raw segment.
			if i < len(pa) && i < len(pb) && pa[i] != pb[i] {
				return strings.Compare(pa[i], pb[i])
			}
		}
	}
	return 0
}
