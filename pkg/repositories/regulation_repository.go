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

// RegulationRepository provides data access for Federal Register documents.
type RegulationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Regulation, error)
	// GetByDocumentNumber returns apperrors.ErrNotFound when the document is
	// not stored; it is the upsert key for Federal Register syncs.
	GetByDocumentNumber(ctx context.Context, documentNumber string) (*models.Regulation, error)
	Create(ctx context.Context, regulation *models.Regulation) error
	Update(ctx context.Context, regulation *models.Regulation) error
	// LatestPublicationDate returns the newest stored publication date, or nil
	// when no regulations are stored. Used to pick the sync window start.
	LatestPublicationDate(ctx context.Context) (*time.Time, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Regulation, error)
}

type regulationRepository struct {
	db *database.DB
}

// NewRegulationRepository creates a new RegulationRepository.
func NewRegulationRepository(db *database.DB) RegulationRepository {
	return &regulationRepository{db: db}
}

var _ RegulationRepository = (*regulationRepository)(nil)

const regulationColumns = `
	id, document_number, title, document_type, abstract, publication_date,
	html_url, agency_ids, import_source, created_at, updated_at`

func scanRegulation(row rowScanner) (*models.Regulation, error) {
	var reg models.Regulation
	err := row.Scan(
		&reg.ID,
		&reg.DocumentNumber,
		&reg.Title,
		&reg.DocumentType,
		&reg.Abstract,
		&reg.PublicationDate,
		&reg.HTMLURL,
		&reg.AgencyIDs,
		&reg.ImportSource,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *regulationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Regulation, error) {
	query := `SELECT ` + regulationColumns + ` FROM regulations WHERE id = $1`

	reg, err := scanRegulation(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get regulation by id: %w", err)
	}
	return reg, nil
}

func (r *regulationRepository) GetByDocumentNumber(ctx context.Context, documentNumber string) (*models.Regulation, error) {
	query := `SELECT ` + regulationColumns + ` FROM regulations WHERE document_number = $1`

	reg, err := scanRegulation(conn(ctx, r.db).QueryRow(ctx, query, documentNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get regulation by document number: %w", err)
	}
	return reg, nil
}

func (r *regulationRepository) Create(ctx context.Context, regulation *models.Regulation) error {
	now := time.Now()

	query := `
		INSERT INTO regulations (
			document_number, title, document_type, abstract, publication_date,
			html_url, agency_ids, import_source, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := conn(ctx, r.db).QueryRow(ctx, query,
		regulation.DocumentNumber,
		regulation.Title,
		regulation.DocumentType,
		regulation.Abstract,
		regulation.PublicationDate,
		regulation.HTMLURL,
		regulation.AgencyIDs,
		regulation.ImportSource,
		now,
		now,
	).Scan(&regulation.ID, &regulation.CreatedAt, &regulation.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create regulation: %w", err)
	}

	return nil
}

func (r *regulationRepository) Update(ctx context.Context, regulation *models.Regulation) error {
	query := `
		UPDATE regulations
		SET title = $2, document_type = $3, abstract = $4, publication_date = $5,
		    html_url = $6, agency_ids = $7, import_source = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := conn(ctx, r.db).QueryRow(ctx, query,
		regulation.ID,
		regulation.Title,
		regulation.DocumentType,
		regulation.Abstract,
		regulation.PublicationDate,
		regulation.HTMLURL,
		regulation.AgencyIDs,
		regulation.ImportSource,
	).Scan(&regulation.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update regulation: %w", err)
	}

	return nil
}

func (r *regulationRepository) LatestPublicationDate(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	err := conn(ctx, r.db).QueryRow(ctx,
		`SELECT MAX(publication_date) FROM regulations`).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest publication date: %w", err)
	}
	return latest, nil
}

func (r *regulationRepository) ListRecent(ctx context.Context, limit int) ([]*models.Regulation, error) {
	query := `SELECT ` + regulationColumns + ` FROM regulations
		ORDER BY publication_date DESC NULLS LAST LIMIT $1`

	rows, err := conn(ctx, r.db).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent regulations: %w", err)
	}
	defer rows.Close()

	var regs []*models.Regulation
	for rows.Next() {
		reg, err := scanRegulation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan regulation row: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read regulation rows: %w", err)
	}

	return regs, nil
}
