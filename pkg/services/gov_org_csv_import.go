package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/database"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
	"github.com/civicdata-io/civic-engine/pkg/repositories"
	"github.com/civicdata-io/civic-engine/pkg/sources"
)

// GovOrgCSVImportService imports government organizations from curated CSV
// uploads. Rows carry no external ID, so identity resolves through the
// natural keys: acronym first, official name second.
type GovOrgCSVImportService struct {
	orgRepo   repositories.GovernmentOrgRepository
	runRepo   repositories.ImportRunRepository
	tx        database.TxRunner
	guard     *DomainGuard
	validator *importer.Validator
	policy    importer.AuthorityPolicy
	logger    *zap.Logger
}

// NewGovOrgCSVImportService creates a new GovOrgCSVImportService.
func NewGovOrgCSVImportService(
	orgRepo repositories.GovernmentOrgRepository,
	runRepo repositories.ImportRunRepository,
	tx database.TxRunner,
	guard *DomainGuard,
	policies importer.PolicySet,
	logger *zap.Logger,
) (*GovOrgCSVImportService, error) {
	policy, err := policies.For(models.ImportSourceCSV)
	if err != nil {
		return nil, err
	}

	return &GovOrgCSVImportService{
		orgRepo:   orgRepo,
		runRepo:   runRepo,
		tx:        tx,
		guard:     guard,
		validator: importer.NewValidator(),
		policy:    policy,
		logger:    logger.Named("govorg_csv_import"),
	}, nil
}

// csvRunState is the per-run working set: acronyms already stored or inserted
// during this run, and acronyms seen earlier in the same file.
type csvRunState struct {
	acronymIndex map[string]uuid.UUID
	seenInFile   map[string]int // lowercase acronym -> first line
}

// ImportCSV runs one CSV import. The returned run reflects every row read;
// the error is non-nil only when the run is rejected for overlap or fails
// structurally.
func (s *GovOrgCSVImportService) ImportCSV(ctx context.Context, r io.Reader) (*models.ImportRun, error) {
	release, err := s.guard.acquire(domainOrganizations)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := startRun(ctx, s.runRepo, models.ImportSourceCSV)
	if err != nil {
		return nil, fmt.Errorf("failed to start import run: %w", err)
	}

	acronymIndex, err := s.orgRepo.AcronymIndex(ctx)
	if err != nil {
		return run, fmt.Errorf("failed to load acronym index: %w", err)
	}
	state := &csvRunState{
		acronymIndex: acronymIndex,
		seenInFile:   make(map[string]int),
	}

	pipeline := &importer.Pipeline[*sources.GovOrgRow]{
		Source:   sources.NewGovOrgCSVSource(r),
		Validate: s.validate(state),
		Resolve: func(ctx context.Context, row *sources.GovOrgRow) (importer.Resolution, error) {
			return s.resolve(ctx, row)
		},
		Apply: func(ctx context.Context, row *sources.GovOrgRow, res importer.Resolution) importer.Outcome {
			return s.apply(ctx, state, row, res)
		},
		Logger: s.logger,
	}

	result, runErr := pipeline.Run(ctx)
	finishRun(ctx, s.runRepo, s.logger, run, result)

	s.logger.Info("CSV import finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.Processed),
		zap.Int("inserted", run.Inserted),
		zap.Int("updated", run.Updated),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed))

	return run, runErr
}

// validate layers the per-run checks on top of the struct tags: the org level
// range and in-file acronym uniqueness.
func (s *GovOrgCSVImportService) validate(state *csvRunState) func(*sources.GovOrgRow) []importer.Problem {
	return func(row *sources.GovOrgRow) []importer.Problem {
		problems := s.validator.Check(row)

		if row.OrgLevel != "" {
			if level := row.ParsedOrgLevel(); level < 1 || level > 10 {
				problems = append(problems, importer.Problem{
					Field:   "orgLevel",
					Value:   row.OrgLevel,
					Message: "must be between 1 and 10",
				})
			}
		}

		if acronym := strings.ToLower(strings.TrimSpace(row.Acronym)); acronym != "" {
			if firstLine, dup := state.seenInFile[acronym]; dup {
				problems = append(problems, importer.Problem{
					Field:   "acronym",
					Value:   row.Acronym,
					Message: fmt.Sprintf("duplicate acronym, first used on line %d", firstLine),
				})
			} else {
				state.seenInFile[acronym] = row.Line
			}
		}

		return problems
	}
}

// resolve matches a row to a stored organization: acronym first, official
// name second. More than one name match is an ambiguity, never an auto-merge.
func (s *GovOrgCSVImportService) resolve(ctx context.Context, row *sources.GovOrgRow) (importer.Resolution, error) {
	return importer.ResolveFirst(ctx, row,
		func(ctx context.Context, row *sources.GovOrgRow) (importer.Resolution, error) {
			if row.Acronym == "" {
				return importer.NewEntity, nil
			}
			org, err := s.orgRepo.GetByAcronym(ctx, row.Acronym)
			if errors.Is(err, apperrors.ErrNotFound) {
				return importer.NewEntity, nil
			}
			if err != nil {
				return importer.NewEntity, err
			}
			return importer.Existing(org.ID, "acronym"), nil
		},
		func(ctx context.Context, row *sources.GovOrgRow) (importer.Resolution, error) {
			orgs, err := s.orgRepo.GetByOfficialName(ctx, row.OfficialName)
			if err != nil {
				return importer.NewEntity, err
			}
			switch len(orgs) {
			case 0:
				return importer.NewEntity, nil
			case 1:
				return importer.Existing(orgs[0].ID, "official_name"), nil
			default:
				return importer.NewEntity, fmt.Errorf("%w: official name %q", apperrors.ErrAmbiguousIdentity, row.OfficialName)
			}
		},
	)
}

func (s *GovOrgCSVImportService) apply(ctx context.Context, state *csvRunState, row *sources.GovOrgRow, res importer.Resolution) importer.Outcome {
	parentID, outcome := s.resolveParent(state, row)
	if outcome != nil {
		return *outcome
	}

	incoming := &models.GovernmentOrganization{
		OfficialName:      row.OfficialName,
		Acronym:           row.Acronym,
		Branch:            row.ParsedBranch(),
		OrgType:           row.ParsedOrgType(),
		OrgLevel:          row.ParsedOrgLevel(),
		ParentID:          parentID,
		EstablishedDate:   row.ParsedEstablishedDate(),
		DissolvedDate:     row.ParsedDissolvedDate(),
		WebsiteURL:        row.WebsiteURL,
		JurisdictionAreas: row.ParsedJurisdictionAreas(),
		ImportSource:      models.ImportSourceCSV,
		CreatedBy:         models.ImportSourceCSV,
		UpdatedBy:         models.ImportSourceCSV,
	}

	var out importer.Outcome
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if !res.Exists {
			if err := s.orgRepo.Create(ctx, incoming); err != nil {
				return err
			}
			if acronym := strings.ToLower(strings.TrimSpace(row.Acronym)); acronym != "" {
				state.acronymIndex[acronym] = incoming.ID
			}
			out = importer.Inserted()
			return nil
		}

		existing, err := s.orgRepo.GetByID(ctx, res.ExistingID)
		if err != nil {
			return err
		}

		changes, err := importer.Diff(existing, incoming, s.policy)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			out = importer.Skipped("no changes")
			return nil
		}

		if err := importer.ApplyChanges(existing, changes); err != nil {
			return err
		}
		existing.UpdatedBy = models.ImportSourceCSV
		if err := s.orgRepo.Update(ctx, existing); err != nil {
			return err
		}
		out = importer.Updated(importer.ChangedFields(changes))
		return nil
	})
	if err != nil {
		return importer.Failed(err.Error())
	}
	return out
}

// resolveParent turns the parentId column into a stored organization ID. A
// UUID is used as-is; anything else is an acronym reference, which may point
// at a row inserted earlier in the same file.
func (s *GovOrgCSVImportService) resolveParent(state *csvRunState, row *sources.GovOrgRow) (*uuid.UUID, *importer.Outcome) {
	raw := strings.TrimSpace(row.ParentID)
	if raw == "" {
		return nil, nil
	}

	if id, ok := row.ParentUUID(); ok {
		return &id, nil
	}

	if id, ok := state.acronymIndex[strings.ToLower(raw)]; ok {
		return &id, nil
	}

	failed := importer.Failed(fmt.Sprintf("parent %q not found by id or acronym", raw))
	return nil, &failed
}
