package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
)

// testPolicies mirrors configs/field_authority.yaml for service tests.
var testPolicies = importer.PolicySet{
	models.ImportSourceCSV: {
		Authoritative: []string{"OfficialName", "Branch", "OrgType", "OrgLevel", "ParentID"},
		FillBlankOnly: []string{"Acronym", "EstablishedDate", "DissolvedDate", "WebsiteURL", "JurisdictionAreas"},
	},
	models.ImportSourceGovman: {
		Authoritative: []string{"MissionStatement"},
		FillBlankOnly: []string{"WebsiteURL"},
	},
	models.ImportSourceUSCode: {
		Authoritative: []string{
			"TitleNumber", "TitleName", "ChapterNumber", "ChapterName",
			"SectionNumber", "Heading", "ContentText", "ContentXML",
			"SourceCredit", "SourceURL", "ReleasePoint",
		},
	},
	models.ImportSourceFederalRegister: {
		Authoritative: []string{
			"Title", "DocumentType", "Abstract", "PublicationDate",
			"HTMLURL", "AgencyIDs",
		},
	},
}

// mockTx runs the function directly; the in-memory repositories below stand
// in for rolled-back state by overwriting on re-apply.
type mockTx struct{}

func (mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockGovOrgRepo struct {
	orgs map[uuid.UUID]*models.GovernmentOrganization

	createErr error
	updateErr error
}

func newMockGovOrgRepo() *mockGovOrgRepo {
	return &mockGovOrgRepo{orgs: make(map[uuid.UUID]*models.GovernmentOrganization)}
}

func (m *mockGovOrgRepo) seed(org *models.GovernmentOrganization) *models.GovernmentOrganization {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	copied := *org
	m.orgs[org.ID] = &copied
	return org
}

func (m *mockGovOrgRepo) GetByID(_ context.Context, id uuid.UUID) (*models.GovernmentOrganization, error) {
	org, ok := m.orgs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *org
	return &copied, nil
}

func (m *mockGovOrgRepo) GetByAcronym(_ context.Context, acronym string) (*models.GovernmentOrganization, error) {
	for _, org := range m.orgs {
		if org.Acronym != "" && strings.EqualFold(org.Acronym, acronym) {
			copied := *org
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockGovOrgRepo) GetByOfficialName(_ context.Context, name string) ([]*models.GovernmentOrganization, error) {
	var hits []*models.GovernmentOrganization
	for _, org := range m.orgs {
		if strings.EqualFold(org.OfficialName, name) {
			copied := *org
			hits = append(hits, &copied)
		}
	}
	return hits, nil
}

func (m *mockGovOrgRepo) GetByExternalID(_ context.Context, externalID string) (*models.GovernmentOrganization, error) {
	for _, org := range m.orgs {
		if org.ExternalID == externalID {
			copied := *org
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockGovOrgRepo) Create(_ context.Context, org *models.GovernmentOrganization) error {
	if m.createErr != nil {
		return m.createErr
	}
	org.ID = uuid.New()
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt
	copied := *org
	m.orgs[org.ID] = &copied
	return nil
}

func (m *mockGovOrgRepo) Update(_ context.Context, org *models.GovernmentOrganization) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.orgs[org.ID]; !ok {
		return apperrors.ErrNotFound
	}
	org.UpdatedAt = time.Now()
	copied := *org
	m.orgs[org.ID] = &copied
	return nil
}

func (m *mockGovOrgRepo) SetParent(_ context.Context, id, parentID uuid.UUID, updatedBy string) error {
	org, ok := m.orgs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	org.ParentID = &parentID
	org.UpdatedBy = updatedBy
	return nil
}

func (m *mockGovOrgRepo) List(_ context.Context) ([]*models.GovernmentOrganization, error) {
	var all []*models.GovernmentOrganization
	for _, org := range m.orgs {
		copied := *org
		all = append(all, &copied)
	}
	return all, nil
}

func (m *mockGovOrgRepo) ListByImportSource(_ context.Context, source string) ([]*models.GovernmentOrganization, error) {
	var hits []*models.GovernmentOrganization
	for _, org := range m.orgs {
		if org.ImportSource == source {
			copied := *org
			hits = append(hits, &copied)
		}
	}
	return hits, nil
}

func (m *mockGovOrgRepo) AcronymIndex(_ context.Context) (map[string]uuid.UUID, error) {
	index := make(map[string]uuid.UUID)
	for _, org := range m.orgs {
		if org.Acronym != "" {
			index[strings.ToLower(org.Acronym)] = org.ID
		}
	}
	return index, nil
}

func (m *mockGovOrgRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.orgs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.orgs, id)
	return nil
}

func (m *mockGovOrgRepo) byAcronym(acronym string) *models.GovernmentOrganization {
	org, _ := m.GetByAcronym(context.Background(), acronym)
	return org
}

type mockStatuteRepo struct {
	statutes map[string]*models.Statute // keyed by usc identifier

	createErrFor map[string]error
	countCalls   int
}

func newMockStatuteRepo() *mockStatuteRepo {
	return &mockStatuteRepo{
		statutes:     make(map[string]*models.Statute),
		createErrFor: make(map[string]error),
	}
}

func (m *mockStatuteRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Statute, error) {
	for _, s := range m.statutes {
		if s.ID == id {
			copied := *s
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockStatuteRepo) GetByUscIdentifier(_ context.Context, identifier string) (*models.Statute, error) {
	s, ok := m.statutes[identifier]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *mockStatuteRepo) Create(_ context.Context, statute *models.Statute) error {
	if err := m.createErrFor[statute.UscIdentifier]; err != nil {
		return err
	}
	statute.ID = uuid.New()
	statute.CreatedAt = time.Now()
	statute.UpdatedAt = statute.CreatedAt
	copied := *statute
	m.statutes[statute.UscIdentifier] = &copied
	return nil
}

func (m *mockStatuteRepo) Update(_ context.Context, statute *models.Statute) error {
	if _, ok := m.statutes[statute.UscIdentifier]; !ok {
		return apperrors.ErrNotFound
	}
	statute.UpdatedAt = time.Now()
	copied := *statute
	m.statutes[statute.UscIdentifier] = &copied
	return nil
}

func (m *mockStatuteRepo) ListByTitle(_ context.Context, titleNumber int) ([]*models.Statute, error) {
	var hits []*models.Statute
	for _, s := range m.statutes {
		if s.TitleNumber == titleNumber {
			copied := *s
			hits = append(hits, &copied)
		}
	}
	return hits, nil
}

func (m *mockStatuteRepo) CountBySource(_ context.Context, source string) (int64, error) {
	m.countCalls++
	var count int64
	for _, s := range m.statutes {
		if s.ImportSource == source {
			count++
		}
	}
	return count, nil
}

type mockRegulationRepo struct {
	regs map[string]*models.Regulation // keyed by document number
}

func newMockRegulationRepo() *mockRegulationRepo {
	return &mockRegulationRepo{regs: make(map[string]*models.Regulation)}
}

func (m *mockRegulationRepo) seed(reg *models.Regulation) *models.Regulation {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	copied := *reg
	m.regs[reg.DocumentNumber] = &copied
	return reg
}

func (m *mockRegulationRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Regulation, error) {
	for _, reg := range m.regs {
		if reg.ID == id {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockRegulationRepo) GetByDocumentNumber(_ context.Context, documentNumber string) (*models.Regulation, error) {
	reg, ok := m.regs[documentNumber]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *reg
	return &copied, nil
}

func (m *mockRegulationRepo) Create(_ context.Context, regulation *models.Regulation) error {
	regulation.ID = uuid.New()
	regulation.CreatedAt = time.Now()
	regulation.UpdatedAt = regulation.CreatedAt
	copied := *regulation
	m.regs[regulation.DocumentNumber] = &copied
	return nil
}

func (m *mockRegulationRepo) Update(_ context.Context, regulation *models.Regulation) error {
	if _, ok := m.regs[regulation.DocumentNumber]; !ok {
		return apperrors.ErrNotFound
	}
	regulation.UpdatedAt = time.Now()
	copied := *regulation
	m.regs[regulation.DocumentNumber] = &copied
	return nil
}

func (m *mockRegulationRepo) LatestPublicationDate(_ context.Context) (*time.Time, error) {
	var latest *time.Time
	for _, reg := range m.regs {
		if reg.PublicationDate == nil {
			continue
		}
		if latest == nil || reg.PublicationDate.After(*latest) {
			d := *reg.PublicationDate
			latest = &d
		}
	}
	return latest, nil
}

func (m *mockRegulationRepo) ListRecent(_ context.Context, limit int) ([]*models.Regulation, error) {
	var all []*models.Regulation
	for _, reg := range m.regs {
		copied := *reg
		all = append(all, &copied)
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type mockImportRunRepo struct {
	runs map[uuid.UUID]*models.ImportRun

	createErr error
}

func newMockImportRunRepo() *mockImportRunRepo {
	return &mockImportRunRepo{runs: make(map[uuid.UUID]*models.ImportRun)}
}

func (m *mockImportRunRepo) Create(_ context.Context, run *models.ImportRun) error {
	if m.createErr != nil {
		return m.createErr
	}
	run.ID = uuid.New()
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *mockImportRunRepo) Finish(_ context.Context, run *models.ImportRun) error {
	if _, ok := m.runs[run.ID]; !ok {
		return apperrors.ErrNotFound
	}
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *mockImportRunRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ImportRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (m *mockImportRunRepo) ListRecent(_ context.Context, limit int) ([]*models.ImportRun, error) {
	var all []*models.ImportRun
	for _, run := range m.runs {
		copied := *run
		all = append(all, &copied)
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *mockImportRunRepo) stored(id uuid.UUID) (*models.ImportRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not stored", id)
	}
	return run, nil
}
