package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/models"
)

// ImportRunReader is the read surface of the import run repository.
type ImportRunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImportRun, error)
	ListRecent(ctx context.Context, limit int) ([]*models.ImportRun, error)
}

// maxUploadBytes caps import uploads at 256MB; USLM title files are the
// largest expected payload.
const maxUploadBytes = 256 << 20

// CSVImporter runs government-organization CSV imports.
type CSVImporter interface {
	ImportCSV(ctx context.Context, r io.Reader) (*models.ImportRun, error)
}

// GovmanImporter runs Government Manual XML imports.
type GovmanImporter interface {
	ImportXML(ctx context.Context, r io.Reader) (*models.ImportRun, error)
}

// USCodeImporter runs US Code imports from uploads or downloads.
type USCodeImporter interface {
	ImportStream(ctx context.Context, r io.Reader, releasePoint string) (*models.ImportRun, error)
	ImportTitle(ctx context.Context, title int, releasePoint string) (*models.ImportRun, error)
	ImportAllTitles(ctx context.Context, releasePoint string) ([]*models.ImportRun, error)
}

// RegulationSyncer runs Federal Register syncs and single-document imports.
type RegulationSyncer interface {
	Sync(ctx context.Context) (*models.ImportRun, error)
	SyncSince(ctx context.Context, since time.Time) (*models.ImportRun, error)
	ImportDocument(ctx context.Context, documentNumber string, force bool) (*models.Regulation, error)
}

// AdminImportHandler exposes the import and sync entry points. These are
// administrative operations; deploys front them with an authenticating proxy.
type AdminImportHandler struct {
	csv     CSVImporter
	govman  GovmanImporter
	uscode  USCodeImporter
	regSync RegulationSyncer
	runRepo ImportRunReader
	logger  *zap.Logger
}

// NewAdminImportHandler creates a new AdminImportHandler.
func NewAdminImportHandler(
	csv CSVImporter,
	govman GovmanImporter,
	uscode USCodeImporter,
	regSync RegulationSyncer,
	runRepo ImportRunReader,
	logger *zap.Logger,
) *AdminImportHandler {
	return &AdminImportHandler{
		csv:     csv,
		govman:  govman,
		uscode:  uscode,
		regSync: regSync,
		runRepo: runRepo,
		logger:  logger,
	}
}

// RegisterRoutes registers the admin import routes on the given mux.
func (h *AdminImportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/import/govorg-csv", h.ImportGovOrgCSV)
	mux.HandleFunc("POST /api/admin/import/govman", h.ImportGovman)
	mux.HandleFunc("POST /api/admin/import/uscode", h.ImportAllUSCodeTitles)
	mux.HandleFunc("POST /api/admin/import/uscode/{title}", h.ImportUSCodeTitle)
	mux.HandleFunc("POST /api/admin/import/federal-register/{documentNumber}", h.ImportFederalRegisterDocument)
	mux.HandleFunc("POST /api/admin/sync/federal-register", h.SyncFederalRegister)
	mux.HandleFunc("GET /api/admin/import-runs", h.ListImportRuns)
	mux.HandleFunc("GET /api/admin/import-runs/{id}", h.GetImportRun)
}

// ImportGovOrgCSV handles POST /api/admin/import/govorg-csv.
// Accepts either a multipart upload under "file" or a raw CSV body.
func (h *AdminImportHandler) ImportGovOrgCSV(w http.ResponseWriter, r *http.Request) {
	body, cleanup, err := uploadBody(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_upload", err.Error())
		return
	}
	defer cleanup()

	run, err := h.csv.ImportCSV(r.Context(), body)
	h.writeRunResponse(w, run, err)
}

// ImportGovman handles POST /api/admin/import/govman.
func (h *AdminImportHandler) ImportGovman(w http.ResponseWriter, r *http.Request) {
	body, cleanup, err := uploadBody(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_upload", err.Error())
		return
	}
	defer cleanup()

	run, err := h.govman.ImportXML(r.Context(), body)
	h.writeRunResponse(w, run, err)
}

// ImportUSCodeTitle handles POST /api/admin/import/uscode/{title}.
// With a request body the body is parsed as USLM XML; without one the title
// is downloaded from uscode.house.gov. An optional releasePoint query
// parameter overrides the configured default.
func (h *AdminImportHandler) ImportUSCodeTitle(w http.ResponseWriter, r *http.Request) {
	title, err := strconv.Atoi(r.PathValue("title"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_title", "title must be a number")
		return
	}
	releasePoint := r.URL.Query().Get("releasePoint")

	if r.ContentLength > 0 {
		run, err := h.uscode.ImportStream(r.Context(),
			http.MaxBytesReader(w, r.Body, maxUploadBytes), releasePoint)
		h.writeRunResponse(w, run, err)
		return
	}

	run, err := h.uscode.ImportTitle(r.Context(), title, releasePoint)
	h.writeRunResponse(w, run, err)
}

// ImportAllUSCodeTitles handles POST /api/admin/import/uscode.
// Downloads and imports every title; this runs for hours on a full corpus.
func (h *AdminImportHandler) ImportAllUSCodeTitles(w http.ResponseWriter, r *http.Request) {
	releasePoint := r.URL.Query().Get("releasePoint")

	runs, err := h.uscode.ImportAllTitles(r.Context(), releasePoint)
	if err != nil {
		h.logger.Error("Full US Code import finished with failures", zap.Error(err))
		_ = WriteJSON(w, http.StatusMultiStatus, map[string]any{
			"runs":  runs,
			"error": err.Error(),
		})
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// ImportFederalRegisterDocument handles
// POST /api/admin/import/federal-register/{documentNumber}?force=true.
func (h *AdminImportHandler) ImportFederalRegisterDocument(w http.ResponseWriter, r *http.Request) {
	documentNumber := r.PathValue("documentNumber")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	reg, err := h.regSync.ImportDocument(r.Context(), documentNumber, force)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, reg)
}

// SyncFederalRegister handles POST /api/admin/sync/federal-register.
// An optional since=YYYY-MM-DD query parameter overrides the automatic
// window.
func (h *AdminImportHandler) SyncFederalRegister(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse("2006-01-02", raw)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_since", "since must be yyyy-MM-dd")
			return
		}
		run, err := h.regSync.SyncSince(r.Context(), since)
		h.writeRunResponse(w, run, err)
		return
	}

	run, err := h.regSync.Sync(r.Context())
	h.writeRunResponse(w, run, err)
}

// ListImportRuns handles GET /api/admin/import-runs?limit=N.
func (h *AdminImportHandler) ListImportRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_limit", "limit must be a positive number")
			return
		}
		limit = parsed
	}

	runs, err := h.runRepo.ListRecent(r.Context(), limit)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetImportRun handles GET /api/admin/import-runs/{id}.
func (h *AdminImportHandler) GetImportRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_id", "id must be a UUID")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, run)
}

// writeRunResponse renders an import run, distinguishing a structurally
// failed run (the run row still exists and is returned) from a run that
// could not start at all.
func (h *AdminImportHandler) writeRunResponse(w http.ResponseWriter, run *models.ImportRun, err error) {
	if err != nil {
		var sfe *importer.SourceFormatError
		if errors.As(err, &sfe) && run != nil {
			_ = WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"run":   run,
				"error": sfe.Error(),
			})
			return
		}
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, run)
}

// uploadBody returns the import payload: the "file" part of a multipart
// upload when present, the raw request body otherwise.
func uploadBody(r *http.Request) (io.Reader, func(), error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, func() {}, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, func() {}, err
		}
		return file, func() { file.Close() }, nil
	}

	body := http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	return body, func() { body.Close() }, nil
}
