// Package models contains domain types for civic-engine.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provenance tags for government-organization import sources.
const (
	ImportSourceCSV    = "csv-import"
	ImportSourceGovman = "GOVMAN"
)

// GovernmentBranch identifies which branch of government an organization
// belongs to.
type GovernmentBranch string

const (
	BranchExecutive   GovernmentBranch = "executive"
	BranchLegislative GovernmentBranch = "legislative"
	BranchJudicial    GovernmentBranch = "judicial"
)

// ParseGovernmentBranch converts a raw string (any case) to a GovernmentBranch.
func ParseGovernmentBranch(value string) (GovernmentBranch, error) {
	switch GovernmentBranch(strings.ToLower(strings.TrimSpace(value))) {
	case BranchExecutive:
		return BranchExecutive, nil
	case BranchLegislative:
		return BranchLegislative, nil
	case BranchJudicial:
		return BranchJudicial, nil
	default:
		return "", fmt.Errorf("invalid branch %q: must be one of executive, legislative, judicial", value)
	}
}

// IsValid reports whether the branch is a known value.
func (b GovernmentBranch) IsValid() bool {
	switch b {
	case BranchExecutive, BranchLegislative, BranchJudicial:
		return true
	default:
		return false
	}
}

// OrganizationType classifies an organization within its branch.
type OrganizationType string

const (
	OrgTypeBranch            OrganizationType = "branch"
	OrgTypeDepartment        OrganizationType = "department"
	OrgTypeIndependentAgency OrganizationType = "independent_agency"
	OrgTypeBureau            OrganizationType = "bureau"
	OrgTypeOffice            OrganizationType = "office"
	OrgTypeCommission        OrganizationType = "commission"
	OrgTypeBoard             OrganizationType = "board"
)

// ParseOrganizationType converts a raw string (any case) to an OrganizationType.
func ParseOrganizationType(value string) (OrganizationType, error) {
	t := OrganizationType(strings.ToLower(strings.TrimSpace(value)))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid orgType %q: must be one of branch, department, independent_agency, bureau, office, commission, board", value)
	}
	return t, nil
}

// IsValid reports whether the organization type is a known value.
func (t OrganizationType) IsValid() bool {
	switch t {
	case OrgTypeBranch, OrgTypeDepartment, OrgTypeIndependentAgency,
		OrgTypeBureau, OrgTypeOffice, OrgTypeCommission, OrgTypeBoard:
		return true
	default:
		return false
	}
}

// GovernmentOrganization is a stored government entity (agency, department,
// committee, court office, ...). The primary key is durable: it is assigned
// on first import or manual creation and never reassigned by any pipeline.
// Import pipelines never delete organizations; deletion is a separate
// administrative operation.
type GovernmentOrganization struct {
	ID                uuid.UUID        `json:"id"`
	OfficialName      string           `json:"official_name"`
	Acronym           string           `json:"acronym,omitempty"`
	Branch            GovernmentBranch `json:"branch"`
	OrgType           OrganizationType `json:"org_type"`
	OrgLevel          int              `json:"org_level"`
	ParentID          *uuid.UUID       `json:"parent_id,omitempty"`
	EstablishedDate   *time.Time       `json:"established_date,omitempty"`
	DissolvedDate     *time.Time       `json:"dissolved_date,omitempty"`
	MissionStatement  string           `json:"mission_statement,omitempty"`
	WebsiteURL        string           `json:"website_url,omitempty"`
	JurisdictionAreas []string         `json:"jurisdiction_areas,omitempty"`

	// ExternalID is the immutable identifier assigned by the source system
	// (e.g. "GOVMAN:L-123"). Empty for manually curated records.
	ExternalID string `json:"external_id,omitempty"`

	// ImportSource is the provenance tag of the source that last wrote this
	// record ("csv-import", "GOVMAN", "federal-register"), empty for manual
	// entries.
	ImportSource string `json:"import_source,omitempty"`

	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
