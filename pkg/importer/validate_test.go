package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type csvRow struct {
	OfficialName string `validate:"required"`
	Branch       string `validate:"required,oneof=executive legislative judicial"`
	OrgLevel     string `validate:"omitempty,numeric"`
	Established  string `validate:"omitempty,datetime=2006-01-02"`
	WebsiteURL   string `validate:"omitempty,url"`
}

func TestValidator_ValidCandidate(t *testing.T) {
	va := NewValidator()
	problems := va.Check(csvRow{
		OfficialName: "Department of Justice",
		Branch:       "executive",
		OrgLevel:     "1",
		Established:  "1870-07-01",
		WebsiteURL:   "https://www.justice.gov",
	})
	assert.Nil(t, problems)
}

func TestValidator_ReportsAllProblemsAtOnce(t *testing.T) {
	va := NewValidator()
	problems := va.Check(csvRow{
		Branch:      "imperial",
		Established: "July 1870",
	})
	require.Len(t, problems, 3)

	byField := map[string]string{}
	for _, p := range problems {
		byField[p.Field] = p.Message
	}
	assert.Equal(t, "is required", byField["OfficialName"])
	assert.Equal(t, "must be one of: executive legislative judicial", byField["Branch"])
	assert.Equal(t, "invalid date format, expected yyyy-MM-dd", byField["Established"])
}

func TestValidator_OptionalFieldsMayBeEmpty(t *testing.T) {
	va := NewValidator()
	problems := va.Check(csvRow{OfficialName: "Supreme Court", Branch: "judicial"})
	assert.Nil(t, problems)
}

func TestValidator_ChecksAreIndependent(t *testing.T) {
	va := NewValidator()

	// A bad URL does not mask a bad org level.
	problems := va.Check(csvRow{
		OfficialName: "General Services Administration",
		Branch:       "executive",
		OrgLevel:     "first",
		WebsiteURL:   "not a url",
	})
	require.Len(t, problems, 2)
	assert.Equal(t, "must be a number", problems[0].Message)
	assert.Equal(t, "invalid URL format", problems[1].Message)
}

func TestProblem_String(t *testing.T) {
	assert.Equal(t, "branch: is required", Problem{Field: "branch", Message: "is required"}.String())
	assert.Equal(t, `branch "imperial": must be one of: executive legislative judicial`,
		Problem{Field: "branch", Value: "imperial", Message: "must be one of: executive legislative judicial"}.String())
}
