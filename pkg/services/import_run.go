// Package services contains the import and sync services that drive external
// civic data into the store.
package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
	"github.com/civicdata-io/civic-engine/pkg/repositories"
)

// startRun persists the run row before any candidate is read, so an aborted
// process still leaves a running row behind as evidence.
func startRun(ctx context.Context, repo repositories.ImportRunRepository, source string) (*models.ImportRun, error) {
	run := &models.ImportRun{Source: source, Status: models.RunStatusRunning}
	if err := repo.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// finishRun folds a pipeline result into the run row and persists it. A
// cancelled import must still record its terminal state, so the write runs on
// a cancellation-free copy of the context.
func finishRun(ctx context.Context, repo repositories.ImportRunRepository, logger *zap.Logger, run *models.ImportRun, res *importer.Result) {
	ctx = context.WithoutCancel(ctx)
	run.Processed = res.Processed
	run.Inserted = res.Inserted
	run.Updated = res.Updated
	run.Skipped = res.Skipped
	run.Failed = res.Failed
	run.FinishedAt = &res.FinishedAt

	for _, recErr := range res.Errors {
		run.Errors = append(run.Errors, recErr.String())
	}

	switch res.State {
	case importer.StateSucceeded:
		run.Status = models.RunStatusSucceeded
	case importer.StatePartiallySucceeded:
		run.Status = models.RunStatusPartiallySucceeded
	default:
		run.Status = models.RunStatusFailed
	}

	if err := repo.Finish(ctx, run); err != nil {
		logger.Error("Failed to persist import run result",
			zap.String("source", run.Source),
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	}
}
