package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/models"
)

func newGovmanService(t *testing.T, orgRepo *mockGovOrgRepo, runRepo *mockImportRunRepo) *GovmanImportService {
	t.Helper()
	svc, err := NewGovmanImportService(orgRepo, runRepo, mockTx{}, NewDomainGuard(), testPolicies, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func govmanDoc(entities ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><GovernmentManual><Entities>` +
		strings.Join(entities, "") +
		`</Entities></GovernmentManual>`
}

func TestImportXML_InsertsAndLinksDeferredParent(t *testing.T) {
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	svc := newGovmanService(t, orgRepo, runRepo)

	// The child appears before its parent; linkage must wait for pass two.
	doc := govmanDoc(
		`<Entity EntityId="L-200" ParentId="L-100" SortOrder="2">
			<EntityType>Bureau</EntityType>
			<Category>Executive Branch</Category>
			<AgencyName>Bureau of the Census</AgencyName>
		</Entity>`,
		`<Entity EntityId="L-100" ParentId="0" SortOrder="1">
			<EntityType>Department</EntityType>
			<Category>Executive Branch</Category>
			<AgencyName>Department of Commerce</AgencyName>
			<MissionStatement><Record><Paragraph>Promote job creation.</Paragraph></Record></MissionStatement>
		</Entity>`,
	)

	run, err := svc.ImportXML(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.Inserted)

	parent, err := orgRepo.GetByExternalID(context.Background(), "GOVMAN:L-100")
	require.NoError(t, err)
	assert.Equal(t, models.OrgTypeDepartment, parent.OrgType)
	assert.Equal(t, "Promote job creation.", parent.MissionStatement)
	assert.Nil(t, parent.ParentID)

	child, err := orgRepo.GetByExternalID(context.Background(), "GOVMAN:L-200")
	require.NoError(t, err)
	assert.Equal(t, models.OrgTypeBureau, child.OrgType)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
}

func TestImportXML_SkipsRecordOwnedByDifferentSource(t *testing.T) {
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	seeded := orgRepo.seed(&models.GovernmentOrganization{
		OfficialName:     "Department of Commerce",
		Branch:           models.BranchExecutive,
		OrgType:          models.OrgTypeDepartment,
		MissionStatement: "curated mission",
		ImportSource:     models.ImportSourceCSV,
	})
	svc := newGovmanService(t, orgRepo, runRepo)

	doc := govmanDoc(
		`<Entity EntityId="L-100" ParentId="0">
			<EntityType>Department</EntityType>
			<Category>Executive Branch</Category>
			<AgencyName>Department of Commerce</AgencyName>
			<MissionStatement><Record><Paragraph>New mission.</Paragraph></Record></MissionStatement>
		</Entity>`,
	)

	run, err := svc.ImportXML(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 1, run.Skipped)
	assert.Zero(t, run.Updated)

	stored, err := orgRepo.GetByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "curated mission", stored.MissionStatement)
	assert.Empty(t, stored.ExternalID)
}

func TestImportXML_AdoptsNameMatchedRecord(t *testing.T) {
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	seeded := orgRepo.seed(&models.GovernmentOrganization{
		OfficialName: "Department of Commerce",
		Branch:       models.BranchExecutive,
		OrgType:      models.OrgTypeDepartment,
	})
	svc := newGovmanService(t, orgRepo, runRepo)

	doc := govmanDoc(
		`<Entity EntityId="L-100" ParentId="0">
			<EntityType>Department</EntityType>
			<Category>Executive Branch</Category>
			<AgencyName>Department of Commerce</AgencyName>
		</Entity>`,
	)

	run, err := svc.ImportXML(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 1, run.Updated)

	stored, err := orgRepo.GetByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "GOVMAN:L-100", stored.ExternalID)
}

func TestImportXML_UpdatesMissionKeepsCuratedWebsite(t *testing.T) {
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	seeded := orgRepo.seed(&models.GovernmentOrganization{
		OfficialName:     "Department of Commerce",
		Branch:           models.BranchExecutive,
		OrgType:          models.OrgTypeDepartment,
		MissionStatement: "old mission",
		WebsiteURL:       "https://curated.example.gov",
		ExternalID:       "GOVMAN:L-100",
		ImportSource:     models.ImportSourceGovman,
	})
	svc := newGovmanService(t, orgRepo, runRepo)

	doc := govmanDoc(
		`<Entity EntityId="L-100" ParentId="0">
			<EntityType>Department</EntityType>
			<Category>Executive Branch</Category>
			<AgencyName>Department of Commerce</AgencyName>
			<Addresses><Address><FooterDetails><WebAddress>https://www.commerce.gov</WebAddress></FooterDetails></Address></Addresses>
			<MissionStatement><Record><Paragraph>New mission.</Paragraph></Record></MissionStatement>
		</Entity>`,
	)

	run, err := svc.ImportXML(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 1, run.Updated)

	stored, err := orgRepo.GetByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "New mission.", stored.MissionStatement)
	assert.Equal(t, "https://curated.example.gov", stored.WebsiteURL)
}

func TestImportXML_MissingParentLeavesUnlinked(t *testing.T) {
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	svc := newGovmanService(t, orgRepo, runRepo)

	doc := govmanDoc(
		`<Entity EntityId="L-300" ParentId="L-999">
			<EntityType>Office</EntityType>
			<Category>Executive Branch</Category>
			<AgencyName>Office of Lost Parents</AgencyName>
		</Entity>`,
	)

	run, err := svc.ImportXML(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	// An unresolvable parent does not fail the record.
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 1, run.Inserted)

	stored, err := orgRepo.GetByExternalID(context.Background(), "GOVMAN:L-300")
	require.NoError(t, err)
	assert.Nil(t, stored.ParentID)
}

func TestImportXML_EntityMissingNameFails(t *testing.T) {
	orgRepo := newMockGovOrgRepo()
	runRepo := newMockImportRunRepo()
	svc := newGovmanService(t, orgRepo, runRepo)

	doc := govmanDoc(
		`<Entity EntityId="L-400" ParentId="0">
			<EntityType>Office</EntityType>
			<Category>Executive Branch</Category>
		</Entity>`,
	)

	run, err := svc.ImportXML(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "entity L-400")
	assert.Contains(t, run.Errors[0], "AgencyName")
}
