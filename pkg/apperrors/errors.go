package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAmbiguousIdentity = errors.New("ambiguous identity: natural key matches more than one stored record")
	ErrRunInProgress     = errors.New("an import for this source is already running")
	ErrEmptySource       = errors.New("source contains no records")
)
