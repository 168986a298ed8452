package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
)

// ExternalIDPrefixGovman prefixes GOVMAN entity IDs to form external IDs,
// e.g. "GOVMAN:L-123".
const ExternalIDPrefixGovman = "GOVMAN:"

// GovmanEntity is one Entity element of a Government Manual XML export.
type GovmanEntity struct {
	EntityID   string `xml:"EntityId,attr" validate:"required"`
	ParentID   string `xml:"ParentId,attr"`
	SortOrder  int    `xml:"SortOrder,attr"`
	EntityType string `xml:"EntityType"`
	Category   string `xml:"Category"`
	AgencyName string `xml:"AgencyName" validate:"required"`

	Addresses struct {
		Address []struct {
			FooterDetails struct {
				WebAddress string `xml:"WebAddress"`
			} `xml:"FooterDetails"`
		} `xml:"Address"`
	} `xml:"Addresses"`

	MissionStatement struct {
		Records []struct {
			Paragraph string `xml:"Paragraph"`
		} `xml:"Record"`
	} `xml:"MissionStatement"`
}

func (e *GovmanEntity) Ref() string {
	if e.EntityID == "" {
		return "entity ?"
	}
	return "entity " + e.EntityID
}

// ExternalID is the durable source-assigned identifier for this entity.
func (e *GovmanEntity) ExternalID() string {
	return ExternalIDPrefixGovman + e.EntityID
}

// HasParent reports whether the entity references a parent. "0" marks a
// top-level entity.
func (e *GovmanEntity) HasParent() bool {
	return e.ParentID != "" && e.ParentID != "0"
}

// WebAddress returns the first non-blank web address from the nested address
// list, or "".
func (e *GovmanEntity) WebAddress() string {
	for _, addr := range e.Addresses.Address {
		if web := strings.TrimSpace(addr.FooterDetails.WebAddress); web != "" {
			return web
		}
	}
	return ""
}

// MissionText joins the mission statement paragraphs with blank lines, or
// returns "" when there are none.
func (e *GovmanEntity) MissionText() string {
	var paragraphs []string
	for _, rec := range e.MissionStatement.Records {
		if p := strings.TrimSpace(rec.Paragraph); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// Branch maps the GOVMAN Category to a government branch, defaulting to
// executive for unknown categories.
func (e *GovmanEntity) Branch() models.GovernmentBranch {
	category := strings.ToLower(strings.TrimSpace(e.Category))
	switch {
	case strings.Contains(category, "legislative"):
		return models.BranchLegislative
	case strings.Contains(category, "judicial"):
		return models.BranchJudicial
	default:
		return models.BranchExecutive
	}
}

// OrgType maps the GOVMAN EntityType to an organization type, defaulting to
// office.
func (e *GovmanEntity) OrgType() models.OrganizationType {
	switch strings.ToLower(strings.TrimSpace(e.EntityType)) {
	case "branch":
		return models.OrgTypeBranch
	case "department":
		return models.OrgTypeDepartment
	case "agency":
		return models.OrgTypeIndependentAgency
	case "bureau":
		return models.OrgTypeBureau
	case "commission":
		return models.OrgTypeCommission
	case "board":
		return models.OrgTypeBoard
	default:
		return models.OrgTypeOffice
	}
}

// GovmanXMLSource streams Entity elements from a Government Manual XML
// document without loading the whole file.
type GovmanXMLSource struct {
	dec *xml.Decoder
}

// NewGovmanXMLSource wraps a GOVMAN XML payload.
func NewGovmanXMLSource(r io.Reader) *GovmanXMLSource {
	return &GovmanXMLSource{dec: xml.NewDecoder(r)}
}

var _ importer.Source[*GovmanEntity] = (*GovmanXMLSource)(nil)

// Next returns the next Entity element. Returns io.EOF when the document is
// exhausted and a *importer.SourceFormatError when the XML is malformed.
func (s *GovmanXMLSource) Next(_ context.Context) (*GovmanEntity, error) {
	for {
		tok, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, &importer.SourceFormatError{Msg: "failed to parse GOVMAN XML", Err: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Entity" {
			continue
		}

		var entity GovmanEntity
		if err := s.dec.DecodeElement(&entity, &start); err != nil {
			return nil, &importer.SourceFormatError{Msg: "failed to parse GOVMAN entity", Err: err}
		}
		return &entity, nil
	}
}
