// Package scheduler runs the nightly Federal Register sync inside the server
// process.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/config"
	"github.com/civicdata-io/civic-engine/pkg/models"
)

// RegulationSyncer is the sync entry point the scheduler drives. Satisfied by
// services.RegulationSyncService.
type RegulationSyncer interface {
	Sync(ctx context.Context) (*models.ImportRun, error)
}

// Scheduler owns the in-process cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	syncer RegulationSyncer
	logger *zap.Logger

	// syncMu guards against overlapping sync runs when a sync outlasts the
	// cron interval.
	syncMu sync.Mutex
}

// New builds a scheduler with the regulation sync registered at the
// configured cron spec.
func New(cfg config.SchedulerConfig, syncer RegulationSyncer, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		syncer: syncer,
		logger: logger.Named("scheduler"),
	}

	if _, err := s.cron.AddFunc(cfg.RegulationSyncSpec, s.runRegulationSync); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins running the registered jobs in their own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop stops scheduling new runs and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runRegulationSync() {
	if !s.syncMu.TryLock() {
		s.logger.Warn("Skipping scheduled regulation sync, previous run still in flight")
		return
	}
	defer s.syncMu.Unlock()

	run, err := s.syncer.Sync(context.Background())
	if err != nil {
		s.logger.Error("Scheduled regulation sync failed", zap.Error(err))
		return
	}

	s.logger.Info("Scheduled regulation sync finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.Processed))
}
