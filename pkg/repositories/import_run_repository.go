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

// ImportRunRepository persists one row per import run.
type ImportRunRepository interface {
	Create(ctx context.Context, run *models.ImportRun) error
	// Finish writes the terminal status, counts, errors, and finish time.
	Finish(ctx context.Context, run *models.ImportRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImportRun, error)
	ListRecent(ctx context.Context, limit int) ([]*models.ImportRun, error)
}

type importRunRepository struct {
	db *database.DB
}

// NewImportRunRepository creates a new ImportRunRepository.
func NewImportRunRepository(db *database.DB) ImportRunRepository {
	return &importRunRepository{db: db}
}

var _ ImportRunRepository = (*importRunRepository)(nil)

const importRunColumns = `
	id, source, status, processed, inserted, updated, skipped, failed,
	errors, started_at, finished_at`

func scanImportRun(row rowScanner) (*models.ImportRun, error) {
	var run models.ImportRun
	err := row.Scan(
		&run.ID,
		&run.Source,
		&run.Status,
		&run.Processed,
		&run.Inserted,
		&run.Updated,
		&run.Skipped,
		&run.Failed,
		&run.Errors,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *importRunRepository) Create(ctx context.Context, run *models.ImportRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	query := `
		INSERT INTO import_runs (source, status, processed, inserted, updated,
			skipped, failed, errors, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := conn(ctx, r.db).QueryRow(ctx, query,
		run.Source,
		run.Status,
		run.Processed,
		run.Inserted,
		run.Updated,
		run.Skipped,
		run.Failed,
		run.Errors,
		run.StartedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}

	return nil
}

func (r *importRunRepository) Finish(ctx context.Context, run *models.ImportRun) error {
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}

	query := `
		UPDATE import_runs
		SET status = $2, processed = $3, inserted = $4, updated = $5,
		    skipped = $6, failed = $7, errors = $8, finished_at = $9
		WHERE id = $1`

	result, err := conn(ctx, r.db).Exec(ctx, query,
		run.ID,
		run.Status,
		run.Processed,
		run.Inserted,
		run.Updated,
		run.Skipped,
		run.Failed,
		run.Errors,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish import run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *importRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportRun, error) {
	query := `SELECT ` + importRunColumns + ` FROM import_runs WHERE id = $1`

	run, err := scanImportRun(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get import run: %w", err)
	}
	return run, nil
}

func (r *importRunRepository) ListRecent(ctx context.Context, limit int) ([]*models.ImportRun, error) {
	query := `SELECT ` + importRunColumns + ` FROM import_runs
		ORDER BY started_at DESC LIMIT $1`

	rows, err := conn(ctx, r.db).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ImportRun
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import run rows: %w", err)
	}

	return runs, nil
}
