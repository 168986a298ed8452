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

// StatuteRepository provides data access for US Code sections.
type StatuteRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Statute, error)
	// GetByUscIdentifier returns apperrors.ErrNotFound when the identifier is
	// not stored; it is the upsert key for US Code imports.
	GetByUscIdentifier(ctx context.Context, identifier string) (*models.Statute, error)
	Create(ctx context.Context, statute *models.Statute) error
	Update(ctx context.Context, statute *models.Statute) error
	ListByTitle(ctx context.Context, titleNumber int) ([]*models.Statute, error)
	CountBySource(ctx context.Context, source string) (int64, error)
}

type statuteRepository struct {
	db *database.DB
}

// NewStatuteRepository creates a new StatuteRepository.
func NewStatuteRepository(db *database.DB) StatuteRepository {
	return &statuteRepository{db: db}
}

var _ StatuteRepository = (*statuteRepository)(nil)

const statuteColumns = `
	id, usc_identifier, title_number, title_name, chapter_number, chapter_name,
	section_number, heading, content_text, content_xml, source_credit,
	source_url, release_point, import_source, created_at, updated_at`

func scanStatute(row rowScanner) (*models.Statute, error) {
	var s models.Statute
	err := row.Scan(
		&s.ID,
		&s.UscIdentifier,
		&s.TitleNumber,
		&s.TitleName,
		&s.ChapterNumber,
		&s.ChapterName,
		&s.SectionNumber,
		&s.Heading,
		&s.ContentText,
		&s.ContentXML,
		&s.SourceCredit,
		&s.SourceURL,
		&s.ReleasePoint,
		&s.ImportSource,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *statuteRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Statute, error) {
	query := `SELECT ` + statuteColumns + ` FROM statutes WHERE id = $1`

	statute, err := scanStatute(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get statute by id: %w", err)
	}
	return statute, nil
}

func (r *statuteRepository) GetByUscIdentifier(ctx context.Context, identifier string) (*models.Statute, error) {
	query := `SELECT ` + statuteColumns + ` FROM statutes WHERE usc_identifier = $1`

	statute, err := scanStatute(conn(ctx, r.db).QueryRow(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get statute by identifier: %w", err)
	}
	return statute, nil
}

func (r *statuteRepository) Create(ctx context.Context, statute *models.Statute) error {
	now := time.Now()

	query := `
		INSERT INTO statutes (
			usc_identifier, title_number, title_name, chapter_number, chapter_name,
			section_number, heading, content_text, content_xml, source_credit,
			source_url, release_point, import_source, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`

	err := conn(ctx, r.db).QueryRow(ctx, query,
		statute.UscIdentifier,
		statute.TitleNumber,
		statute.TitleName,
		statute.ChapterNumber,
		statute.ChapterName,
		statute.SectionNumber,
		statute.Heading,
		statute.ContentText,
		statute.ContentXML,
		statute.SourceCredit,
		statute.SourceURL,
		statute.ReleasePoint,
		statute.ImportSource,
		now,
		now,
	).Scan(&statute.ID, &statute.CreatedAt, &statute.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create statute: %w", err)
	}

	return nil
}

func (r *statuteRepository) Update(ctx context.Context, statute *models.Statute) error {
	query := `
		UPDATE statutes
		SET title_number = $2, title_name = $3, chapter_number = $4,
		    chapter_name = $5, section_number = $6, heading = $7,
		    content_text = $8, content_xml = $9, source_credit = $10,
		    source_url = $11, release_point = $12, import_source = $13,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := conn(ctx, r.db).QueryRow(ctx, query,
		statute.ID,
		statute.TitleNumber,
		statute.TitleName,
		statute.ChapterNumber,
		statute.ChapterName,
		statute.SectionNumber,
		statute.Heading,
		statute.ContentText,
		statute.ContentXML,
		statute.SourceCredit,
		statute.SourceURL,
		statute.ReleasePoint,
		statute.ImportSource,
	).Scan(&statute.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update statute: %w", err)
	}

	return nil
}

func (r *statuteRepository) ListByTitle(ctx context.Context, titleNumber int) ([]*models.Statute, error) {
	query := `SELECT ` + statuteColumns + ` FROM statutes
		WHERE title_number = $1 ORDER BY usc_identifier`

	rows, err := conn(ctx, r.db).Query(ctx, query, titleNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list statutes by title: %w", err)
	}
	defer rows.Close()

	var statutes []*models.Statute
	for rows.Next() {
		s, err := scanStatute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statute row: %w", err)
		}
		statutes = append(statutes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read statute rows: %w", err)
	}

	return statutes, nil
}

func (r *statuteRepository) CountBySource(ctx context.Context, source string) (int64, error) {
	var count int64
	err := conn(ctx, r.db).QueryRow(ctx,
		`SELECT COUNT(*) FROM statutes WHERE import_source = $1`, source).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count statutes by source: %w", err)
	}
	return count, nil
}
