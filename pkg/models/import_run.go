package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportRunStatus is the terminal (or in-flight) state of an import run.
type ImportRunStatus string

const (
	RunStatusRunning            ImportRunStatus = "running"
	RunStatusSucceeded          ImportRunStatus = "succeeded"
	RunStatusPartiallySucceeded ImportRunStatus = "partially_succeeded"
	RunStatusFailed             ImportRunStatus = "failed"
)

// ImportRun is the persisted outcome of a single import run: one row per
// invocation of an import entry point. Mutated additively while the run is in
// flight, immutable once finished.
type ImportRun struct {
	ID     uuid.UUID       `json:"id"`
	Source string          `json:"source"` // "csv-import", "GOVMAN", "USCODE", "federal-register"
	Status ImportRunStatus `json:"status"`

	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	// Errors holds one human-readable message per failed candidate, each
	// referencing the candidate's source position, in processing order. A
	// structural failure contributes a single top-level message.
	Errors []string `json:"errors,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
