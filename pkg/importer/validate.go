package importer

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
)

// Validator checks candidates against their struct validation tags and
// reports every failing field, not just the first. Checks are field-local
// and independent.
type Validator struct {
	v *validator.Validate
}

// NewValidator builds the shared candidate validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Check returns all field-level problems for a candidate, or nil when it is
// valid. Candidates failing here must never reach identity resolution or
// merge.
func (va *Validator) Check(candidate any) []Problem {
	err := va.v.Struct(candidate)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []Problem{{Field: "candidate", Message: err.Error()}}
	}

	problems := make([]Problem, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, Problem{
			Field:   fe.Field(),
			Value:   cast.ToString(fe.Value()),
			Message: describeTag(fe),
		})
	}
	return problems
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "datetime":
		return "invalid date format, expected yyyy-MM-dd"
	case "url":
		return "invalid URL format"
	case "numeric":
		return "must be a number"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
