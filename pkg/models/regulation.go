package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportSourceFederalRegister is the provenance tag for regulations imported
// from the Federal Register API.
const ImportSourceFederalRegister = "federal-register"

// Regulation is a Federal Register document (rule, proposed rule, notice,
// presidential document). Uniquely identified by the Federal Register
// document number.
type Regulation struct {
	ID              uuid.UUID   `json:"id"`
	DocumentNumber  string      `json:"document_number"`
	Title           string      `json:"title"`
	DocumentType    string      `json:"document_type,omitempty"` // "rule", "proposed_rule", "notice", "presidential_document"
	Abstract        string      `json:"abstract,omitempty"`
	PublicationDate *time.Time  `json:"publication_date,omitempty"`
	HTMLURL         string      `json:"html_url,omitempty"`
	AgencyIDs       []uuid.UUID `json:"agency_ids,omitempty"` // Linked GovernmentOrganization IDs
	ImportSource    string      `json:"import_source,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
