// Package importer implements the shared import pipeline used by every
// civic-engine source: read candidates, validate, resolve identity, merge
// into the store, and aggregate a per-run result. One bad record never aborts
// the remaining records in a run.
package importer

import (
	"fmt"
	"strings"
)

// Candidate is one unit of external data flowing through the pipeline.
// Implementations are immutable once produced by a Source.
type Candidate interface {
	// Ref identifies the candidate's position in its source for error
	// reporting, e.g. "line 12" or "/us/usc/t5/s101".
	Ref() string
}

// OutcomeKind tags the result of merging one candidate.
type OutcomeKind string

const (
	OutcomeInserted OutcomeKind = "inserted"
	OutcomeUpdated  OutcomeKind = "updated"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the tagged per-candidate result returned from the merge step.
// Expected outcomes (including Failed) travel as values, never as errors.
type Outcome struct {
	Kind          OutcomeKind
	FieldsChanged []string // set for OutcomeUpdated
	Reason        string   // set for OutcomeSkipped and OutcomeFailed
}

// Inserted reports that the candidate became a new stored entity.
func Inserted() Outcome {
	return Outcome{Kind: OutcomeInserted}
}

// Updated reports that an existing entity changed; fieldsChanged lists the
// authoritative fields that actually differed.
func Updated(fieldsChanged []string) Outcome {
	return Outcome{Kind: OutcomeUpdated, FieldsChanged: fieldsChanged}
}

// Skipped reports that the candidate required no write ("no changes",
// "different source", ...).
func Skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// Failed reports a per-record failure; the run continues with the next
// candidate.
func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// Problem is one field-level validation finding. A candidate may carry
// several problems at once; they are reported together.
type Problem struct {
	Field   string
	Value   string
	Message string

	// Soft problems downgrade the record to Skipped (with a warning) instead
	// of Failed. Missing required fields are never soft.
	Soft bool
}

func (p Problem) String() string {
	if p.Value == "" {
		return fmt.Sprintf("%s: %s", p.Field, p.Message)
	}
	return fmt.Sprintf("%s %q: %s", p.Field, p.Value, p.Message)
}

// joinProblems renders a problem list into a single outcome reason.
func joinProblems(problems []Problem) string {
	parts := make([]string, len(problems))
	for i, p := range problems {
		parts[i] = p.String()
	}
	return strings.Join(parts, "; ")
}
