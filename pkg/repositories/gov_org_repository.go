package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/database"
	"github.com/civicdata-io/civic-engine/pkg/models"
)

// GovernmentOrgRepository provides data access for government organizations.
type GovernmentOrgRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.GovernmentOrganization, error)
	// GetByAcronym matches case-insensitively. Returns apperrors.ErrNotFound
	// when no organization carries the acronym.
	GetByAcronym(ctx context.Context, acronym string) (*models.GovernmentOrganization, error)
	// GetByOfficialName matches case-insensitively and returns every hit;
	// callers decide whether more than one match is an ambiguity.
	GetByOfficialName(ctx context.Context, name string) ([]*models.GovernmentOrganization, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.GovernmentOrganization, error)
	Create(ctx context.Context, org *models.GovernmentOrganization) error
	Update(ctx context.Context, org *models.GovernmentOrganization) error
	SetParent(ctx context.Context, id, parentID uuid.UUID, updatedBy string) error
	List(ctx context.Context) ([]*models.GovernmentOrganization, error)
	ListByImportSource(ctx context.Context, source string) ([]*models.GovernmentOrganization, error)
	// AcronymIndex maps every stored lowercase acronym to its organization ID.
	AcronymIndex(ctx context.Context) (map[string]uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type govOrgRepository struct {
	db *database.DB
}

// NewGovernmentOrgRepository creates a new GovernmentOrgRepository.
func NewGovernmentOrgRepository(db *database.DB) GovernmentOrgRepository {
	return &govOrgRepository{db: db}
}

var _ GovernmentOrgRepository = (*govOrgRepository)(nil)

const govOrgColumns = `
	id, official_name, acronym, branch, org_type, org_level, parent_id,
	established_date, dissolved_date, mission_statement, website_url,
	jurisdiction_areas, external_id, import_source, created_by, updated_by,
	created_at, updated_at`

func scanGovOrg(row rowScanner) (*models.GovernmentOrganization, error) {
	var org models.GovernmentOrganization
	err := row.Scan(
		&org.ID,
		&org.OfficialName,
		&org.Acronym,
		&org.Branch,
		&org.OrgType,
		&org.OrgLevel,
		&org.ParentID,
		&org.EstablishedDate,
		&org.DissolvedDate,
		&org.MissionStatement,
		&org.WebsiteURL,
		&org.JurisdictionAreas,
		&org.ExternalID,
		&org.ImportSource,
		&org.CreatedBy,
		&org.UpdatedBy,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *govOrgRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GovernmentOrganization, error) {
	query := `SELECT ` + govOrgColumns + ` FROM government_organizations WHERE id = $1`

	org, err := scanGovOrg(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization by id: %w", err)
	}
	return org, nil
}

func (r *govOrgRepository) GetByAcronym(ctx context.Context, acronym string) (*models.GovernmentOrganization, error) {
	query := `SELECT ` + govOrgColumns + ` FROM government_organizations WHERE LOWER(acronym) = LOWER($1)`

	org, err := scanGovOrg(conn(ctx, r.db).QueryRow(ctx, query, acronym))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization by acronym: %w", err)
	}
	return org, nil
}

func (r *govOrgRepository) GetByOfficialName(ctx context.Context, name string) ([]*models.GovernmentOrganization, error) {
	query := `SELECT ` + govOrgColumns + ` FROM government_organizations
		WHERE LOWER(official_name) = LOWER($1) ORDER BY created_at`

	rows, err := conn(ctx, r.db).Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get organizations by name: %w", err)
	}
	defer rows.Close()

	return collectGovOrgs(rows)
}

func (r *govOrgRepository) GetByExternalID(ctx context.Context, externalID string) (*models.GovernmentOrganization, error) {
	query := `SELECT ` + govOrgColumns + ` FROM government_organizations WHERE external_id = $1`

	org, err := scanGovOrg(conn(ctx, r.db).QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization by external id: %w", err)
	}
	return org, nil
}

func (r *govOrgRepository) Create(ctx context.Context, org *models.GovernmentOrganization) error {
	now := time.Now()

	query := `
		INSERT INTO government_organizations (
			official_name, acronym, branch, org_type, org_level, parent_id,
			established_date, dissolved_date, mission_statement, website_url,
			jurisdiction_areas, external_id, import_source, created_by, updated_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	err := conn(ctx, r.db).QueryRow(ctx, query,
		org.OfficialName,
		org.Acronym,
		org.Branch,
		org.OrgType,
		org.OrgLevel,
		org.ParentID,
		org.EstablishedDate,
		org.DissolvedDate,
		org.MissionStatement,
		org.WebsiteURL,
		org.JurisdictionAreas,
		org.ExternalID,
		org.ImportSource,
		org.CreatedBy,
		org.UpdatedBy,
		now,
		now,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	return nil
}

func (r *govOrgRepository) Update(ctx context.Context, org *models.GovernmentOrganization) error {
	query := `
		UPDATE government_organizations
		SET official_name = $2, acronym = $3, branch = $4, org_type = $5,
		    org_level = $6, parent_id = $7, established_date = $8,
		    dissolved_date = $9, mission_statement = $10, website_url = $11,
		    jurisdiction_areas = $12, external_id = $13, import_source = $14,
		    updated_by = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := conn(ctx, r.db).QueryRow(ctx, query,
		org.ID,
		org.OfficialName,
		org.Acronym,
		org.Branch,
		org.OrgType,
		org.OrgLevel,
		org.ParentID,
		org.EstablishedDate,
		org.DissolvedDate,
		org.MissionStatement,
		org.WebsiteURL,
		org.JurisdictionAreas,
		org.ExternalID,
		org.ImportSource,
		org.UpdatedBy,
	).Scan(&org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update organization: %w", err)
	}

	return nil
}

func (r *govOrgRepository) SetParent(ctx context.Context, id, parentID uuid.UUID, updatedBy string) error {
	query := `
		UPDATE government_organizations
		SET parent_id = $2, updated_by = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := conn(ctx, r.db).Exec(ctx, query, id, parentID, updatedBy)
	if err != nil {
		return fmt.Errorf("failed to set organization parent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *govOrgRepository) List(ctx context.Context) ([]*models.GovernmentOrganization, error) {
	query := `SELECT ` + govOrgColumns + ` FROM government_organizations ORDER BY official_name`

	rows, err := conn(ctx, r.db).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	return collectGovOrgs(rows)
}

func (r *govOrgRepository) ListByImportSource(ctx context.Context, source string) ([]*models.GovernmentOrganization, error) {
	query := `SELECT ` + govOrgColumns + ` FROM government_organizations
		WHERE import_source = $1 ORDER BY official_name`

	rows, err := conn(ctx, r.db).Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations by import source: %w", err)
	}
	defer rows.Close()

	return collectGovOrgs(rows)
}

func (r *govOrgRepository) AcronymIndex(ctx context.Context) (map[string]uuid.UUID, error) {
	query := `SELECT LOWER(acronym), id FROM government_organizations WHERE acronym <> ''`

	rows, err := conn(ctx, r.db).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to build acronym index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]uuid.UUID)
	for rows.Next() {
		var acronym string
		var id uuid.UUID
		if err := rows.Scan(&acronym, &id); err != nil {
			return nil, fmt.Errorf("failed to scan acronym index row: %w", err)
		}
		index[acronym] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read acronym index: %w", err)
	}

	return index, nil
}

func (r *govOrgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM government_organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func collectGovOrgs(rows pgx.Rows) ([]*models.GovernmentOrganization, error) {
	var orgs []*models.GovernmentOrganization
	for rows.Next() {
		org, err := scanGovOrg(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization row: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read organization rows: %w", err)
	}
	return orgs, nil
}
