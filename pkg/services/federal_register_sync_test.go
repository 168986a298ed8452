package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/clients"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
)

type sliceDocSource struct {
	docs []*clients.FRDocument
	pos  int
}

func (s *sliceDocSource) Next(_ context.Context) (*clients.FRDocument, error) {
	if s.pos >= len(s.docs) {
		return nil, io.EOF
	}
	doc := s.docs[s.pos]
	s.pos++
	return doc, nil
}

type fakeFetcher struct {
	docs      []*clients.FRDocument
	byNumber  map[string]*clients.FRDocument
	lastSince time.Time
}

func (f *fakeFetcher) FetchDocument(_ context.Context, documentNumber string) (*clients.FRDocument, error) {
	doc, ok := f.byNumber[documentNumber]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return doc, nil
}

func (f *fakeFetcher) DocumentsSince(since time.Time) importer.Source[*clients.FRDocument] {
	f.lastSince = since
	return &sliceDocSource{docs: f.docs}
}

func newSyncService(t *testing.T, regRepo *mockRegulationRepo, orgRepo *mockGovOrgRepo, runRepo *mockImportRunRepo, fetcher RegulationFetcher) *RegulationSyncService {
	t.Helper()
	svc, err := NewRegulationSyncService(regRepo, orgRepo, runRepo, mockTx{}, NewDomainGuard(), fetcher, testPolicies, 7, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestSyncSince_InsertsAndLinksAgencies(t *testing.T) {
	regRepo := newMockRegulationRepo()
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()

	epa := orgRepo.seed(&models.GovernmentOrganization{
		OfficialName: "Environmental Protection Agency",
		Acronym:      "EPA",
		Branch:       models.BranchExecutive,
		OrgType:      models.OrgTypeIndependentAgency,
	})
	commerce := orgRepo.seed(&models.GovernmentOrganization{
		OfficialName: "Department of Commerce",
		Branch:       models.BranchExecutive,
		OrgType:      models.OrgTypeDepartment,
	})

	fetcher := &fakeFetcher{docs: []*clients.FRDocument{
		{
			DocumentNumber:  "2025-10001",
			Title:           "Air Quality Designations",
			Type:            "Rule",
			PublicationDate: "2025-06-15",
			HTMLURL:         "https://www.federalregister.gov/d/2025-10001",
			Agencies: []clients.FRAgency{
				{Name: "Environmental Protection Agency"},
			},
		},
		{
			DocumentNumber:  "2025-10002",
			Title:           "Export Administration Regulations",
			Type:            "Proposed Rule",
			PublicationDate: "2025-06-16",
			Agencies: []clients.FRAgency{
				// Resolved through the alias table, not the exact name.
				{Name: "Commerce Department"},
			},
		},
	}}
	svc := newSyncService(t, regRepo, orgRepo, runRepo, fetcher)

	run, err := svc.SyncSince(context.Background(), time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.Inserted)

	rule, err := regRepo.GetByDocumentNumber(context.Background(), "2025-10001")
	require.NoError(t, err)
	assert.Equal(t, "rule", rule.DocumentType)
	assert.Equal(t, models.ImportSourceFederalRegister, rule.ImportSource)
	require.NotNil(t, rule.PublicationDate)
	assert.Equal(t, []uuid.UUID{epa.ID}, rule.AgencyIDs)

	proposed, err := regRepo.GetByDocumentNumber(context.Background(), "2025-10002")
	require.NoError(t, err)
	assert.Equal(t, "proposed_rule", proposed.DocumentType)
	assert.Equal(t, []uuid.UUID{commerce.ID}, proposed.AgencyIDs)
}

func TestSyncSince_AgencyByAcronymAndUnknownDropped(t *testing.T) {
	regRepo := newMockRegulationRepo()
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()

	faa := orgRepo.seed(&models.GovernmentOrganization{
		OfficialName: "Federal Aviation Administration",
		Acronym:      "FAA",
		Branch:       models.BranchExecutive,
		OrgType:      models.OrgTypeIndependentAgency,
	})

	fetcher := &fakeFetcher{docs: []*clients.FRDocument{
		{
			DocumentNumber: "2025-10003",
			Title:          "Airworthiness Directives",
			Type:           "Rule",
			Agencies: []clients.FRAgency{
				{Name: "Aviation Administration, Federal", ShortName: "FAA"},
				{Name: "Completely Unknown Agency"},
			},
		},
	}}
	svc := newSyncService(t, regRepo, orgRepo, runRepo, fetcher)

	run, err := svc.SyncSince(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Inserted)

	stored, err := regRepo.GetByDocumentNumber(context.Background(), "2025-10003")
	require.NoError(t, err)
	// The unknown agency is dropped rather than guessed.
	assert.Equal(t, []uuid.UUID{faa.ID}, stored.AgencyIDs)
}

func TestSyncSince_UpdatesChangedDocument(t *testing.T) {
	regRepo := newMockRegulationRepo()
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	regRepo.seed(&models.Regulation{
		DocumentNumber: "2025-10001",
		Title:          "Old Title",
		DocumentType:   "rule",
		ImportSource:   models.ImportSourceFederalRegister,
	})

	fetcher := &fakeFetcher{docs: []*clients.FRDocument{
		{DocumentNumber: "2025-10001", Title: "Corrected Title", Type: "Rule"},
	}}
	svc := newSyncService(t, regRepo, orgRepo, runRepo, fetcher)

	run, err := svc.SyncSince(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, run.Updated)
	assert.Zero(t, run.Inserted)

	stored, err := regRepo.GetByDocumentNumber(context.Background(), "2025-10001")
	require.NoError(t, err)
	assert.Equal(t, "Corrected Title", stored.Title)
}

func TestSync_WindowStartsFromLatestStoredDate(t *testing.T) {
	regRepo := newMockRegulationRepo()
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()

	latest := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	regRepo.seed(&models.Regulation{
		DocumentNumber:  "2025-09999",
		Title:           "Existing",
		PublicationDate: &latest,
	})

	fetcher := &fakeFetcher{}
	svc := newSyncService(t, regRepo, orgRepo, runRepo, fetcher)

	_, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latest, fetcher.lastSince)
}

func TestSync_EmptyStoreUsesLookbackWindow(t *testing.T) {
	regRepo := newMockRegulationRepo()
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()

	fetcher := &fakeFetcher{}
	svc := newSyncService(t, regRepo, orgRepo, runRepo, fetcher)

	_, err := svc.Sync(context.Background())
	require.NoError(t, err)

	expected := time.Now().AddDate(0, 0, -7)
	assert.WithinDuration(t, expected, fetcher.lastSince, time.Minute)
}

func TestImportDocument_ExistingWithoutForceConflicts(t *testing.T) {
	regRepo := newMockRegulationRepo()
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	seeded := regRepo.seed(&models.Regulation{
		DocumentNumber: "2025-10001",
		Title:          "Stored Title",
	})

	fetcher := &fakeFetcher{byNumber: map[string]*clients.FRDocument{
		"2025-10001": {DocumentNumber: "2025-10001", Title: "API Title", Type: "Rule"},
	}}
	svc := newSyncService(t, regRepo, orgRepo, runRepo, fetcher)

	got, err := svc.ImportDocument(context.Background(), "2025-10001", false)
	require.ErrorIs(t, err, apperrors.ErrConflict)
	require.NotNil(t, got)
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, "Stored Title", got.Title)
}

func TestImportDocument_ForceOverwrites(t *testing.T) {
	regRepo := newMockRegulationRepo()
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	seeded := regRepo.seed(&models.Regulation{
		DocumentNumber: "2025-10001",
		Title:          "Stored Title",
	})

	fetcher := &fakeFetcher{byNumber: map[string]*clients.FRDocument{
		"2025-10001": {DocumentNumber: "2025-10001", Title: "API Title", Type: "Rule"},
	}}
	svc := newSyncService(t, regRepo, orgRepo, runRepo, fetcher)

	got, err := svc.ImportDocument(context.Background(), "2025-10001", true)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, "API Title", got.Title)

	stored, err := regRepo.GetByDocumentNumber(context.Background(), "2025-10001")
	require.NoError(t, err)
	assert.Equal(t, "API Title", stored.Title)
}

func TestImportDocument_UnknownNumber(t *testing.T) {
	regRepo := newMockRegulationRepo()
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()

	fetcher := &fakeFetcher{byNumber: map[string]*clients.FRDocument{}}
	svc := newSyncService(t, regRepo, orgRepo, runRepo, fetcher)

	_, err := svc.ImportDocument(context.Background(), "2025-00000", false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNormalizeDocumentType(t *testing.T) {
	assert.Equal(t, "rule", normalizeDocumentType("Rule"))
	assert.Equal(t, "proposed_rule", normalizeDocumentType("Proposed Rule"))
	assert.Equal(t, "presidential_document", normalizeDocumentType("Presidential Document"))
	assert.Equal(t, "notice", normalizeDocumentType(" Notice "))
}
