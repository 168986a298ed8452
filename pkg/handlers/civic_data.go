package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/models"
)

// OrganizationReader is the read surface of the organization repository.
type OrganizationReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.GovernmentOrganization, error)
	List(ctx context.Context) ([]*models.GovernmentOrganization, error)
	ListByImportSource(ctx context.Context, source string) ([]*models.GovernmentOrganization, error)
}

// StatuteReader is the read surface of the statute repository.
type StatuteReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Statute, error)
	ListByTitle(ctx context.Context, titleNumber int) ([]*models.Statute, error)
}

// RegulationReader is the read surface of the regulation repository.
type RegulationReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Regulation, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Regulation, error)
}

// CivicDataHandler exposes the read-only civic data endpoints.
type CivicDataHandler struct {
	orgRepo     OrganizationReader
	statuteRepo StatuteReader
	regRepo     RegulationReader
	logger      *zap.Logger
}

// NewCivicDataHandler creates a new CivicDataHandler.
func NewCivicDataHandler(
	orgRepo OrganizationReader,
	statuteRepo StatuteReader,
	regRepo RegulationReader,
	logger *zap.Logger,
) *CivicDataHandler {
	return &CivicDataHandler{
		orgRepo:     orgRepo,
		statuteRepo: statuteRepo,
		regRepo:     regRepo,
		logger:      logger,
	}
}

// RegisterRoutes registers the civic data routes on the given mux.
func (h *CivicDataHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/organizations", h.ListOrganizations)
	mux.HandleFunc("GET /api/organizations/{id}", h.GetOrganization)
	mux.HandleFunc("GET /api/statutes", h.ListStatutesByTitle)
	mux.HandleFunc("GET /api/statutes/{id}", h.GetStatute)
	mux.HandleFunc("GET /api/regulations", h.ListRecentRegulations)
	mux.HandleFunc("GET /api/regulations/{id}", h.GetRegulation)
}

// ListOrganizations handles GET /api/organizations?source=GOVMAN.
func (h *CivicDataHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")

	var err error
	var orgs any
	if source != "" {
		orgs, err = h.orgRepo.ListByImportSource(r.Context(), source)
	} else {
		orgs, err = h.orgRepo.List(r.Context())
	}
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

// GetOrganization handles GET /api/organizations/{id}.
func (h *CivicDataHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_id", "id must be a UUID")
		return
	}

	org, err := h.orgRepo.GetByID(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, org)
}

// ListStatutesByTitle handles GET /api/statutes?title=5.
func (h *CivicDataHandler) ListStatutesByTitle(w http.ResponseWriter, r *http.Request) {
	title, err := strconv.Atoi(r.URL.Query().Get("title"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_title", "title query parameter must be a number")
		return
	}

	statutes, err := h.statuteRepo.ListByTitle(r.Context(), title)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"statutes": statutes})
}

// GetStatute handles GET /api/statutes/{id}.
func (h *CivicDataHandler) GetStatute(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_id", "id must be a UUID")
		return
	}

	statute, err := h.statuteRepo.GetByID(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, statute)
}

// ListRecentRegulations handles GET /api/regulations?limit=N.
func (h *CivicDataHandler) ListRecentRegulations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_limit", "limit must be a positive number")
			return
		}
		limit = parsed
	}

	regs, err := h.regRepo.ListRecent(r.Context(), limit)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"regulations": regs})
}

// GetRegulation handles GET /api/regulations/{id}.
func (h *CivicDataHandler) GetRegulation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_id", "id must be a UUID")
		return
	}

	reg, err := h.regRepo.GetByID(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, reg)
}
