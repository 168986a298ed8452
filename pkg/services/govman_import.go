package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/database"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
	"github.com/civicdata-io/civic-engine/pkg/repositories"
	"github.com/civicdata-io/civic-engine/pkg/sources"
)

// GovmanImportService imports the United States Government Manual XML export.
// Entities carry a durable source ID, so identity resolves through the
// external ID first and falls back to the official name for records that
// predate GOVMAN imports. Parent links reference entities that may appear
// later in the file, so they are resolved in a second pass after every entity
// is stored.
type GovmanImportService struct {
	orgRepo   repositories.GovernmentOrgRepository
	runRepo   repositories.ImportRunRepository
	tx        database.TxRunner
	guard     *DomainGuard
	validator *importer.Validator
	policy    importer.AuthorityPolicy
	logger    *zap.Logger
}

// NewGovmanImportService creates a new GovmanImportService.
func NewGovmanImportService(
	orgRepo repositories.GovernmentOrgRepository,
	runRepo repositories.ImportRunRepository,
	tx database.TxRunner,
	guard *DomainGuard,
	policies importer.PolicySet,
	logger *zap.Logger,
) (*GovmanImportService, error) {
	policy, err := policies.For(models.ImportSourceGovman)
	if err != nil {
		return nil, err
	}

	return &GovmanImportService{
		orgRepo:   orgRepo,
		runRepo:   runRepo,
		tx:        tx,
		guard:     guard,
		validator: importer.NewValidator(),
		policy:    policy,
		logger:    logger.Named("govman_import"),
	}, nil
}

// deferredParent is a child waiting for its parent entity to be resolvable.
type deferredParent struct {
	childID        uuid.UUID
	childRef       string
	parentEntityID string
}

// govmanRunState accumulates the entity-ID map and deferred parent links
// while the first pass runs.
type govmanRunState struct {
	entityIDs map[string]uuid.UUID // GOVMAN EntityId -> stored org ID
	deferred  []deferredParent
}

// ImportXML runs one GOVMAN import: a first pass storing every entity, then a
// second pass wiring parent links. Unresolvable parents are logged, not
// failed; the hierarchy converges on the next full import.
func (s *GovmanImportService) ImportXML(ctx context.Context, r io.Reader) (*models.ImportRun, error) {
	release, err := s.guard.acquire(domainOrganizations)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := startRun(ctx, s.runRepo, models.ImportSourceGovman)
	if err != nil {
		return nil, fmt.Errorf("failed to start import run: %w", err)
	}

	state := &govmanRunState{entityIDs: make(map[string]uuid.UUID)}

	pipeline := &importer.Pipeline[*sources.GovmanEntity]{
		Source: sources.NewGovmanXMLSource(r),
		Validate: func(e *sources.GovmanEntity) []importer.Problem {
			return s.validator.Check(e)
		},
		Resolve: func(ctx context.Context, e *sources.GovmanEntity) (importer.Resolution, error) {
			return s.resolve(ctx, e)
		},
		Apply: func(ctx context.Context, e *sources.GovmanEntity, res importer.Resolution) importer.Outcome {
			return s.apply(ctx, state, e, res)
		},
		Logger: s.logger,
	}

	result, runErr := pipeline.Run(ctx)
	if runErr == nil {
		s.linkParents(ctx, state)
	}
	finishRun(ctx, s.runRepo, s.logger, run, result)

	s.logger.Info("GOVMAN import finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.Processed),
		zap.Int("inserted", run.Inserted),
		zap.Int("updated", run.Updated),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed),
		zap.Int("deferred_parents", len(state.deferred)))

	return run, runErr
}

// resolve matches an entity by its durable external ID, then by official
// name. Name matches owned by a different import source are surfaced through
// the resolution strategy name so apply can skip them.
func (s *GovmanImportService) resolve(ctx context.Context, e *sources.GovmanEntity) (importer.Resolution, error) {
	return importer.ResolveFirst(ctx, e,
		func(ctx context.Context, e *sources.GovmanEntity) (importer.Resolution, error) {
			org, err := s.orgRepo.GetByExternalID(ctx, e.ExternalID())
			if errors.Is(err, apperrors.ErrNotFound) {
				return importer.NewEntity, nil
			}
			if err != nil {
				return importer.NewEntity, err
			}
			return importer.Existing(org.ID, "external_id"), nil
		},
		func(ctx context.Context, e *sources.GovmanEntity) (importer.Resolution, error) {
			orgs, err := s.orgRepo.GetByOfficialName(ctx, e.AgencyName)
			if err != nil {
				return importer.NewEntity, err
			}
			switch len(orgs) {
			case 0:
				return importer.NewEntity, nil
			case 1:
				if src := orgs[0].ImportSource; src != "" && src != models.ImportSourceGovman {
					return importer.Existing(orgs[0].ID, "name_other_source"), nil
				}
				return importer.Existing(orgs[0].ID, "official_name"), nil
			default:
				return importer.NewEntity, fmt.Errorf("%w: official name %q", apperrors.ErrAmbiguousIdentity, e.AgencyName)
			}
		},
	)
}

func (s *GovmanImportService) apply(ctx context.Context, state *govmanRunState, e *sources.GovmanEntity, res importer.Resolution) importer.Outcome {
	// A name collision with a record owned by another source is left alone;
	// that source stays authoritative for its record.
	if res.Strategy == "name_other_source" {
		return importer.Skipped("name matches a record owned by a different source")
	}

	incoming := &models.GovernmentOrganization{
		OfficialName:     e.AgencyName,
		Branch:           e.Branch(),
		OrgType:          e.OrgType(),
		OrgLevel:         1,
		MissionStatement: e.MissionText(),
		WebsiteURL:       e.WebAddress(),
		ExternalID:       e.ExternalID(),
		ImportSource:     models.ImportSourceGovman,
		CreatedBy:        models.ImportSourceGovman,
		UpdatedBy:        models.ImportSourceGovman,
	}

	var out importer.Outcome
	var storedID uuid.UUID

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if !res.Exists {
			if err := s.orgRepo.Create(ctx, incoming); err != nil {
				return err
			}
			storedID = incoming.ID
			out = importer.Inserted()
			return nil
		}

		existing, err := s.orgRepo.GetByID(ctx, res.ExistingID)
		if err != nil {
			return err
		}
		storedID = existing.ID

		changes, err := importer.Diff(existing, incoming, s.policy)
		if err != nil {
			return err
		}
		// Adopting a name-matched record records the external ID for future
		// imports even when nothing else changed.
		if existing.ExternalID == "" {
			changes = append(changes, importer.FieldChange{
				Field: "ExternalID", From: existing.ExternalID, To: incoming.ExternalID,
			})
		}
		if len(changes) == 0 {
			out = importer.Skipped("no changes")
			return nil
		}

		if err := importer.ApplyChanges(existing, changes); err != nil {
			return err
		}
		existing.UpdatedBy = models.ImportSourceGovman
		if err := s.orgRepo.Update(ctx, existing); err != nil {
			return err
		}
		out = importer.Updated(importer.ChangedFields(changes))
		return nil
	})
	if err != nil {
		return importer.Failed(err.Error())
	}

	state.entityIDs[e.EntityID] = storedID
	if e.HasParent() {
		state.deferred = append(state.deferred, deferredParent{
			childID:        storedID,
			childRef:       e.Ref(),
			parentEntityID: e.ParentID,
		})
	}

	return out
}

// linkParents wires the deferred parent references once every entity in the
// file has a stored ID. A parent missing from both the file and the store is
// logged and left unlinked.
func (s *GovmanImportService) linkParents(ctx context.Context, state *govmanRunState) {
	for _, d := range state.deferred {
		parentID, ok := state.entityIDs[d.parentEntityID]
		if !ok {
			org, err := s.orgRepo.GetByExternalID(ctx, sources.ExternalIDPrefixGovman+d.parentEntityID)
			if err != nil {
				s.logger.Warn("Parent entity not found, leaving organization unlinked",
					zap.String("child", d.childRef),
					zap.String("parent_entity_id", d.parentEntityID))
				continue
			}
			parentID = org.ID
		}

		if parentID == d.childID {
			s.logger.Warn("Entity references itself as parent, skipping link",
				zap.String("child", d.childRef))
			continue
		}

		if err := s.orgRepo.SetParent(ctx, d.childID, parentID, models.ImportSourceGovman); err != nil {
			s.logger.Warn("Failed to link organization parent",
				zap.String("child", d.childRef),
				zap.String("parent_entity_id", d.parentEntityID),
				zap.Error(err))
		}
	}
}
