package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/clients"
	"github.com/civicdata-io/civic-engine/pkg/database"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
	"github.com/civicdata-io/civic-engine/pkg/repositories"
)

// RegulationFetcher is the Federal Register client surface the sync needs.
// Satisfied by clients.FederalRegisterClient.
type RegulationFetcher interface {
	FetchDocument(ctx context.Context, documentNumber string) (*clients.FRDocument, error)
	DocumentsSince(since time.Time) importer.Source[*clients.FRDocument]
}

// knownAgencyAliases maps Federal Register agency names (normalized) to the
// official names used in the organization store, for the cases where the two
// vocabularies disagree. Checked after exact name and acronym matching.
var knownAgencyAliases = map[string]string{
	"agriculture department":                   "Department of Agriculture",
	"commerce department":                      "Department of Commerce",
	"defense department":                       "Department of Defense",
	"education department":                     "Department of Education",
	"energy department":                        "Department of Energy",
	"homeland security department":             "Department of Homeland Security",
	"housing and urban development department": "Department of Housing and Urban Development",
	"interior department":                      "Department of the Interior",
	"justice department":                       "Department of Justice",
	"labor department":                         "Department of Labor",
	"state department":                         "Department of State",
	"transportation department":                "Department of Transportation",
	"treasury department":                      "Department of the Treasury",
	"veterans affairs department":              "Department of Veterans Affairs",
}

// RegulationSyncService pulls rules, proposed rules, notices, and
// presidential documents from the Federal Register API, upserting on the
// document number and linking each document to stored government
// organizations by agency name.
type RegulationSyncService struct {
	regRepo      repositories.RegulationRepository
	orgRepo      repositories.GovernmentOrgRepository
	runRepo      repositories.ImportRunRepository
	tx           database.TxRunner
	guard        *DomainGuard
	client       RegulationFetcher
	validator    *importer.Validator
	policy       importer.AuthorityPolicy
	lookbackDays int
	logger       *zap.Logger
}

// NewRegulationSyncService creates a new RegulationSyncService.
func NewRegulationSyncService(
	regRepo repositories.RegulationRepository,
	orgRepo repositories.GovernmentOrgRepository,
	runRepo repositories.ImportRunRepository,
	tx database.TxRunner,
	guard *DomainGuard,
	client RegulationFetcher,
	policies importer.PolicySet,
	lookbackDays int,
	logger *zap.Logger,
) (*RegulationSyncService, error) {
	policy, err := policies.For(models.ImportSourceFederalRegister)
	if err != nil {
		return nil, err
	}
	if lookbackDays < 1 {
		lookbackDays = 7
	}

	return &RegulationSyncService{
		regRepo:      regRepo,
		orgRepo:      orgRepo,
		runRepo:      runRepo,
		tx:           tx,
		guard:        guard,
		client:       client,
		validator:    importer.NewValidator(),
		policy:       policy,
		lookbackDays: lookbackDays,
		logger:       logger.Named("federal_register_sync"),
	}, nil
}

// Sync pulls documents published since the newest stored publication date,
// falling back to the configured lookback window for an empty store. The
// window start is inclusive, so the newest day is re-fetched; upserts make
// that harmless.
func (s *RegulationSyncService) Sync(ctx context.Context) (*models.ImportRun, error) {
	latest, err := s.regRepo.LatestPublicationDate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine sync window: %w", err)
	}

	since := time.Now().AddDate(0, 0, -s.lookbackDays)
	if latest != nil {
		since = *latest
	}

	return s.SyncSince(ctx, since)
}

// SyncSince pulls documents published on or after since.
func (s *RegulationSyncService) SyncSince(ctx context.Context, since time.Time) (*models.ImportRun, error) {
	release, err := s.guard.acquire(domainRegulations)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := startRun(ctx, s.runRepo, models.ImportSourceFederalRegister)
	if err != nil {
		return nil, fmt.Errorf("failed to start import run: %w", err)
	}

	linker, err := s.newAgencyLinker(ctx)
	if err != nil {
		return run, fmt.Errorf("failed to load agency index: %w", err)
	}

	pipeline := &importer.Pipeline[*clients.FRDocument]{
		Source: s.client.DocumentsSince(since),
		Validate: func(doc *clients.FRDocument) []importer.Problem {
			return s.validator.Check(doc)
		},
		Resolve: func(ctx context.Context, doc *clients.FRDocument) (importer.Resolution, error) {
			return s.resolve(ctx, doc)
		},
		Apply: func(ctx context.Context, doc *clients.FRDocument, res importer.Resolution) importer.Outcome {
			return s.apply(ctx, linker, doc, res)
		},
		Logger: s.logger,
	}

	result, runErr := pipeline.Run(ctx)
	finishRun(ctx, s.runRepo, s.logger, run, result)

	s.logger.Info("Federal Register sync finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.String("since", since.Format("2006-01-02")),
		zap.Int("processed", run.Processed),
		zap.Int("inserted", run.Inserted),
		zap.Int("updated", run.Updated),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed))

	return run, runErr
}

// ImportDocument fetches and stores a single document by number. An already
// stored document is returned with apperrors.ErrConflict unless force is set,
// in which case it is overwritten from the API.
func (s *RegulationSyncService) ImportDocument(ctx context.Context, documentNumber string, force bool) (*models.Regulation, error) {
	release, err := s.guard.acquire(domainRegulations)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.regRepo.GetByDocumentNumber(ctx, documentNumber)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if existing != nil && !force {
		return existing, apperrors.ErrConflict
	}

	doc, err := s.client.FetchDocument(ctx, documentNumber)
	if err != nil {
		return nil, err
	}

	linker, err := s.newAgencyLinker(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load agency index: %w", err)
	}

	incoming := s.regulationFromDocument(linker, doc)

	if existing == nil {
		if err := s.regRepo.Create(ctx, incoming); err != nil {
			return nil, err
		}
		return incoming, nil
	}

	incoming.ID = existing.ID
	if err := s.regRepo.Update(ctx, incoming); err != nil {
		return nil, err
	}
	return incoming, nil
}

func (s *RegulationSyncService) resolve(ctx context.Context, doc *clients.FRDocument) (importer.Resolution, error) {
	reg, err := s.regRepo.GetByDocumentNumber(ctx, doc.DocumentNumber)
	if errors.Is(err, apperrors.ErrNotFound) {
		return importer.NewEntity, nil
	}
	if err != nil {
		return importer.NewEntity, err
	}
	return importer.Existing(reg.ID, "document_number"), nil
}

func (s *RegulationSyncService) apply(ctx context.Context, linker *agencyLinker, doc *clients.FRDocument, res importer.Resolution) importer.Outcome {
	incoming := s.regulationFromDocument(linker, doc)

	var out importer.Outcome
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if !res.Exists {
			if err := s.regRepo.Create(ctx, incoming); err != nil {
				return err
			}
			out = importer.Inserted()
			return nil
		}

		existing, err := s.regRepo.GetByID(ctx, res.ExistingID)
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
		if err := s.regRepo.Update(ctx, existing); err != nil {
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

func (s *RegulationSyncService) regulationFromDocument(linker *agencyLinker, doc *clients.FRDocument) *models.Regulation {
	return &models.Regulation{
		DocumentNumber:  doc.DocumentNumber,
		Title:           doc.Title,
		DocumentType:    normalizeDocumentType(doc.Type),
		Abstract:        doc.Abstract,
		PublicationDate: doc.ParsedPublicationDate(),
		HTMLURL:         doc.HTMLURL,
		AgencyIDs:       linker.link(doc),
		ImportSource:    models.ImportSourceFederalRegister,
	}
}

// normalizeDocumentType maps the API's display type to the stored enum.
func normalizeDocumentType(displayType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(displayType)), " ", "_")
}

// agencyLinker matches Federal Register agency references to stored
// organization IDs. The organization list is loaded once per sync; the match
// strategies run in confidence order, and an ambiguous fuzzy match links
// nothing rather than guessing.
type agencyLinker struct {
	names    map[string]uuid.UUID // normalized official name -> id
	acronyms map[string]uuid.UUID // lowercase acronym -> id
	allNames []string             // normalized names, for fuzzy matching
	logger   *zap.Logger
}

func (s *RegulationSyncService) newAgencyLinker(ctx context.Context) (*agencyLinker, error) {
	orgs, err := s.orgRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	linker := &agencyLinker{
		names:    make(map[string]uuid.UUID, len(orgs)),
		acronyms: make(map[string]uuid.UUID),
		logger:   s.logger,
	}
	for _, org := range orgs {
		name := importer.NormalizeName(org.OfficialName)
		linker.names[name] = org.ID
		linker.allNames = append(linker.allNames, name)
		if org.Acronym != "" {
			linker.acronyms[strings.ToLower(org.Acronym)] = org.ID
		}
	}
	return linker, nil
}

// link resolves every agency on a document, deduplicated, dropping the ones
// no strategy can place.
func (l *agencyLinker) link(doc *clients.FRDocument) []uuid.UUID {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)

	for _, agency := range doc.Agencies {
		id, ok := l.linkOne(agency)
		if !ok {
			l.logger.Debug("No stored organization for Federal Register agency",
				zap.String("agency", agency.Name),
				zap.String("document", doc.DocumentNumber))
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (l *agencyLinker) linkOne(agency clients.FRAgency) (uuid.UUID, bool) {
	name := importer.NormalizeName(agency.Name)

	if id, ok := l.names[name]; ok {
		return id, true
	}

	if agency.ShortName != "" {
		if id, ok := l.acronyms[strings.ToLower(agency.ShortName)]; ok {
			return id, true
		}
	}

	if alias, ok := knownAgencyAliases[name]; ok {
		if id, ok := l.names[importer.NormalizeName(alias)]; ok {
			return id, true
		}
	}

	matches := importer.FuzzyNameMatch(agency.Name, l.allNames)
	if len(matches) == 1 {
		return l.names[matches[0]], true
	}
	if len(matches) > 1 {
		l.logger.Debug("Ambiguous fuzzy agency match, leaving unlinked",
			zap.String("agency", agency.Name),
			zap.Int("matches", len(matches)))
	}
	return uuid.Nil, false
}
