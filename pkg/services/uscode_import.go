package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/database"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
	"github.com/civicdata-io/civic-engine/pkg/repositories"
	"github.com/civicdata-io/civic-engine/pkg/sources"
)

// TitleDownloader fetches USLM title archives. Satisfied by
// clients.USCodeDownloadClient.
type TitleDownloader interface {
	DownloadTitle(ctx context.Context, title int, releasePoint string) (io.ReadCloser, error)
	AvailableTitles() []int
	DefaultReleasePoint() string
}

// uscIdentifierPattern extracts title and section from a USLM identifier,
// e.g. "/us/usc/t5/s101".
var uscIdentifierPattern = regexp.MustCompile(`^/us/usc/t(\d+)/s(.+)$`)

// USCodeImportService imports US Code sections from USLM title files.
// Sections upsert on the USLM identifier; title files carry tens of thousands
// of sections, so writes are grouped into batches that fall back to
// record-by-record commits when a batch fails.
type USCodeImportService struct {
	statuteRepo repositories.StatuteRepository
	runRepo     repositories.ImportRunRepository
	tx          database.TxRunner
	guard       *DomainGuard
	downloader  TitleDownloader
	validator   *importer.Validator
	policy      importer.AuthorityPolicy
	batchSize   int
	logger      *zap.Logger
}

// NewUSCodeImportService creates a new USCodeImportService.
func NewUSCodeImportService(
	statuteRepo repositories.StatuteRepository,
	runRepo repositories.ImportRunRepository,
	tx database.TxRunner,
	guard *DomainGuard,
	downloader TitleDownloader,
	policies importer.PolicySet,
	batchSize int,
	logger *zap.Logger,
) (*USCodeImportService, error) {
	policy, err := policies.For(models.ImportSourceUSCode)
	if err != nil {
		return nil, err
	}
	if batchSize < 1 {
		batchSize = 100
	}

	return &USCodeImportService{
		statuteRepo: statuteRepo,
		runRepo:     runRepo,
		tx:          tx,
		guard:       guard,
		downloader:  downloader,
		validator:   importer.NewValidator(),
		policy:      policy,
		batchSize:   batchSize,
		logger:      logger.Named("uscode_import"),
	}, nil
}

// ImportTitle downloads one title at a release point and imports it. An empty
// releasePoint uses the configured default.
func (s *USCodeImportService) ImportTitle(ctx context.Context, title int, releasePoint string) (*models.ImportRun, error) {
	if releasePoint == "" {
		releasePoint = s.downloader.DefaultReleasePoint()
	}

	rc, err := s.downloader.DownloadTitle(ctx, title, releasePoint)
	if err != nil {
		return nil, fmt.Errorf("failed to download title %d: %w", title, err)
	}
	defer rc.Close()

	return s.ImportStream(ctx, rc, releasePoint)
}

// ImportAllTitles imports every USC title at a release point. Per-title
// failures are logged and do not stop the remaining titles.
func (s *USCodeImportService) ImportAllTitles(ctx context.Context, releasePoint string) ([]*models.ImportRun, error) {
	var runs []*models.ImportRun
	var failedTitles []int

	for _, title := range s.downloader.AvailableTitles() {
		if err := ctx.Err(); err != nil {
			return runs, fmt.Errorf("import cancelled at title %d: %w", title, err)
		}

		run, err := s.ImportTitle(ctx, title, releasePoint)
		if err != nil {
			s.logger.Error("Failed to import title",
				zap.Int("title", title),
				zap.Error(err))
			failedTitles = append(failedTitles, title)
			if run != nil {
				runs = append(runs, run)
			}
			continue
		}
		runs = append(runs, run)
	}

	if len(failedTitles) > 0 {
		return runs, fmt.Errorf("failed to import %d of %d titles: %v",
			len(failedTitles), len(s.downloader.AvailableTitles()), failedTitles)
	}
	return runs, nil
}

// ImportStream imports sections from a USLM XML payload.
func (s *USCodeImportService) ImportStream(ctx context.Context, r io.Reader, releasePoint string) (*models.ImportRun, error) {
	release, err := s.guard.acquire(domainStatutes)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := startRun(ctx, s.runRepo, models.ImportSourceUSCode)
	if err != nil {
		return nil, fmt.Errorf("failed to start import run: %w", err)
	}

	pipeline := &importer.Pipeline[*sources.StatuteSection]{
		Source: sources.NewUSLMSource(r),
		Validate: func(sec *sources.StatuteSection) []importer.Problem {
			return s.validator.Check(sec)
		},
		Resolve: func(ctx context.Context, sec *sources.StatuteSection) (importer.Resolution, error) {
			statute, err := s.statuteRepo.GetByUscIdentifier(ctx, sec.Identifier)
			if errors.Is(err, apperrors.ErrNotFound) {
				return importer.NewEntity, nil
			}
			if err != nil {
				return importer.NewEntity, err
			}
			return importer.Existing(statute.ID, "usc_identifier"), nil
		},
		FlushSize: s.batchSize,
		ApplyBatch: func(ctx context.Context, secs []*sources.StatuteSection, rs []importer.Resolution) ([]importer.Outcome, error) {
			return s.applyBatch(ctx, secs, rs, releasePoint)
		},
		Apply: func(ctx context.Context, sec *sources.StatuteSection, res importer.Resolution) importer.Outcome {
			var out importer.Outcome
			err := s.tx.InTx(ctx, func(ctx context.Context) error {
				var upsertErr error
				out, upsertErr = s.upsert(ctx, sec, res, releasePoint)
				return upsertErr
			})
			if err != nil {
				return importer.Failed(err.Error())
			}
			return out
		},
		Logger: s.logger,
	}

	result, runErr := pipeline.Run(ctx)
	finishRun(ctx, s.runRepo, s.logger, run, result)

	storedSections, err := s.statuteRepo.CountBySource(context.WithoutCancel(ctx), models.ImportSourceUSCode)
	if err != nil {
		s.logger.Warn("Failed to count stored sections", zap.Error(err))
	}

	s.logger.Info("US Code import finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.String("release_point", releasePoint),
		zap.Int("processed", run.Processed),
		zap.Int("inserted", run.Inserted),
		zap.Int("updated", run.Updated),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed),
		zap.Int64("stored_sections", storedSections))

	return run, runErr
}

// applyBatch commits a whole batch in one transaction. Any failure rolls the
// batch back and reports the error; the pipeline then retries each section in
// its own transaction so one bad section cannot discard its neighbors.
func (s *USCodeImportService) applyBatch(ctx context.Context, secs []*sources.StatuteSection, rs []importer.Resolution, releasePoint string) ([]importer.Outcome, error) {
	outcomes := make([]importer.Outcome, len(secs))

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for i, sec := range secs {
			out, err := s.upsert(ctx, sec, rs[i], releasePoint)
			if err != nil {
				return fmt.Errorf("%s: %w", sec.Ref(), err)
			}
			outcomes[i] = out
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *USCodeImportService) upsert(ctx context.Context, sec *sources.StatuteSection, res importer.Resolution, releasePoint string) (importer.Outcome, error) {
	incoming := &models.Statute{
		UscIdentifier: sec.Identifier,
		TitleNumber:   sec.TitleNumber,
		TitleName:     sec.TitleName,
		ChapterNumber: sec.ChapterNumber,
		ChapterName:   sec.ChapterName,
		SectionNumber: sec.SectionNumber,
		Heading:       sec.Heading,
		ContentText:   sec.ContentText,
		ContentXML:    sec.ContentXML,
		SourceCredit:  sec.SourceCredit,
		SourceURL:     buildSourceURL(sec.Identifier),
		ReleasePoint:  releasePoint,
		ImportSource:  models.ImportSourceUSCode,
	}

	if !res.Exists {
		if err := s.statuteRepo.Create(ctx, incoming); err != nil {
			return importer.Outcome{}, err
		}
		return importer.Inserted(), nil
	}

	existing, err := s.statuteRepo.GetByID(ctx, res.ExistingID)
	if err != nil {
		return importer.Outcome{}, err
	}

	changes, err := importer.Diff(existing, incoming, s.policy)
	if err != nil {
		return importer.Outcome{}, err
	}
	if len(changes) == 0 {
		return importer.Skipped("no changes"), nil
	}

	if err := importer.ApplyChanges(existing, changes); err != nil {
		return importer.Outcome{}, err
	}
	if err := s.statuteRepo.Update(ctx, existing); err != nil {
		return importer.Outcome{}, err
	}
	return importer.Updated(importer.ChangedFields(changes)), nil
}

// buildSourceURL links a USLM identifier back to the official viewer, or ""
// when the identifier does not name a title section.
func buildSourceURL(identifier string) string {
	m := uscIdentifierPattern.FindStringSubmatch(identifier)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("https://uscode.house.gov/view.xhtml?req=granuleid:USC-prelim-title%s-section%s", m[1], m[2])
}
