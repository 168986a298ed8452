package importer

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Resolution is the identity resolver's verdict for one candidate.
type Resolution struct {
	// ExistingID is the stored entity the candidate resolves to, valid only
	// when Exists is true.
	ExistingID uuid.UUID
	Exists     bool
	// Strategy names the matching strategy that won ("external_id",
	// "natural_key"), for logging.
	Strategy string
}

// NewEntity is the resolution for a candidate with no stored counterpart.
var NewEntity = Resolution{}

// Existing builds a resolution pointing at a stored entity.
func Existing(id uuid.UUID, strategy string) Resolution {
	return Resolution{ExistingID: id, Exists: true, Strategy: strategy}
}

// Strategy is one identity-matching attempt. It returns a non-Exists
// resolution when it has no opinion, letting the next strategy run. Errors
// (e.g. apperrors.ErrAmbiguousIdentity) stop the chain immediately: an
// ambiguous match is a conflict, never an auto-merge.
type Strategy[C Candidate] func(ctx context.Context, c C) (Resolution, error)

// ResolveFirst applies strategies in priority order; the first match wins.
// With no match the candidate is treated as new.
func ResolveFirst[C Candidate](ctx context.Context, c C, strategies ...Strategy[C]) (Resolution, error) {
	for _, strategy := range strategies {
		res, err := strategy(ctx, c)
		if err != nil {
			return NewEntity, err
		}
		if res.Exists {
			return res, nil
		}
	}
	return NewEntity, nil
}

// NormalizeName lowercases a name and collapses runs of whitespace, the
// canonical form for natural-key comparison.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// FuzzyNameMatch finds the names in haystack that fuzzily match name after
// unicode normalization. Used for lowest-priority matching (agency linkage),
// where callers must still treat multiple hits as ambiguous.
func FuzzyNameMatch(name string, haystack []string) []string {
	return fuzzy.FindNormalizedFold(NormalizeName(name), haystack)
}
