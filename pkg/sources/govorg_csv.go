// Package sources contains the streaming readers that feed the import
// pipeline: government-organization CSV uploads, GOVMAN XML, and USLM XML
// title files. Each reader yields one candidate at a time and reports
// unreadable payloads as structural errors.
package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
)

// GovOrgRow is one data line of a government-organization CSV upload, fields
// kept raw as read. Branch and OrgType are lowercased at read time so the
// enum checks are case-insensitive, matching the upload contract.
type GovOrgRow struct {
	Line int

	OfficialName      string `validate:"required"`
	Acronym           string
	Branch            string `validate:"required,oneof=executive legislative judicial"`
	OrgType           string `validate:"required,oneof=branch department independent_agency bureau office commission board"`
	OrgLevel          string `validate:"omitempty,numeric"`
	ParentID          string
	EstablishedDate   string `validate:"omitempty,datetime=2006-01-02"`
	DissolvedDate     string `validate:"omitempty,datetime=2006-01-02"`
	WebsiteURL        string `validate:"omitempty,url"`
	JurisdictionAreas string
}

func (r *GovOrgRow) Ref() string {
	return fmt.Sprintf("line %d", r.Line)
}

// ParsedBranch converts the raw branch value. Only valid after validation.
func (r *GovOrgRow) ParsedBranch() models.GovernmentBranch {
	b, _ := models.ParseGovernmentBranch(r.Branch)
	return b
}

// ParsedOrgType converts the raw orgType value. Only valid after validation.
func (r *GovOrgRow) ParsedOrgType() models.OrganizationType {
	t, _ := models.ParseOrganizationType(r.OrgType)
	return t
}

// ParsedOrgLevel returns the org level, defaulting to 1 when the column is
// empty.
func (r *GovOrgRow) ParsedOrgLevel() int {
	if r.OrgLevel == "" {
		return 1
	}
	return cast.ToInt(r.OrgLevel)
}

// ParsedEstablishedDate returns the established date, nil when empty.
func (r *GovOrgRow) ParsedEstablishedDate() *time.Time {
	return parseDate(r.EstablishedDate)
}

// ParsedDissolvedDate returns the dissolved date, nil when empty.
func (r *GovOrgRow) ParsedDissolvedDate() *time.Time {
	return parseDate(r.DissolvedDate)
}

// ParsedJurisdictionAreas splits the semicolon-separated jurisdiction list,
// dropping empty entries.
func (r *GovOrgRow) ParsedJurisdictionAreas() []string {
	if r.JurisdictionAreas == "" {
		return nil
	}
	var areas []string
	for _, part := range strings.Split(r.JurisdictionAreas, ";") {
		if p := strings.TrimSpace(part); p != "" {
			areas = append(areas, p)
		}
	}
	return areas
}

// ParentUUID reports the parentId column as a UUID when it is one. A
// non-UUID value is an acronym reference, resolved by the import service.
func (r *GovOrgRow) ParentUUID() (uuid.UUID, bool) {
	id, err := uuid.Parse(r.ParentID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil
	}
	return &t
}

// GovOrgCSVSource streams data rows from a government-organization CSV
// upload. The header line is validated on the first read; a missing required
// column or an unreadable payload is a structural failure.
type GovOrgCSVSource struct {
	reader     *csv.Reader
	line       int
	rows       int
	headerRead bool
}

// NewGovOrgCSVSource wraps a CSV payload.
func NewGovOrgCSVSource(r io.Reader) *GovOrgCSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return &GovOrgCSVSource{reader: cr}
}

var _ importer.Source[*GovOrgRow] = (*GovOrgCSVSource)(nil)

// Next returns the next non-empty data row. Returns io.EOF at end of file
// and a *importer.SourceFormatError for structural problems, including a
// payload with no data rows beyond the header.
func (s *GovOrgCSVSource) Next(_ context.Context) (*GovOrgRow, error) {
	if !s.headerRead {
		if err := s.readHeader(); err != nil {
			return nil, err
		}
	}

	for {
		record, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			if s.rows == 0 {
				return nil, &importer.SourceFormatError{
					Msg: "CSV contains no data rows",
					Err: apperrors.ErrEmptySource,
				}
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, &importer.SourceFormatError{Msg: "failed to read CSV row", Err: err}
		}
		s.line++

		if isEmptyRecord(record) {
			continue
		}

		s.rows++
		return rowFromRecord(record, s.line), nil
	}
}

func (s *GovOrgCSVSource) readHeader() error {
	header, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return &importer.SourceFormatError{Msg: "CSV file is empty"}
	}
	if err != nil {
		return &importer.SourceFormatError{Msg: "failed to read CSV header", Err: err}
	}
	s.line = 1
	s.headerRead = true

	if len(header) < 3 {
		return &importer.SourceFormatError{
			Msg: "CSV must have at least 3 columns: officialName, branch, orgType",
		}
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}
	for _, required := range []string{"officialname", "branch", "orgtype"} {
		if !present[required] {
			return &importer.SourceFormatError{
				Msg: fmt.Sprintf("missing required header: %s", required),
			}
		}
	}

	return nil
}

func rowFromRecord(record []string, line int) *GovOrgRow {
	cell := func(i int) string {
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	return &GovOrgRow{
		Line:              line,
		OfficialName:      cell(0),
		Acronym:           cell(1),
		Branch:            strings.ToLower(cell(2)),
		OrgType:           strings.ToLower(cell(3)),
		OrgLevel:          cell(4),
		ParentID:          cell(5),
		EstablishedDate:   cell(6),
		DissolvedDate:     cell(7),
		WebsiteURL:        cell(8),
		JurisdictionAreas: cell(9),
	}
}

func isEmptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
