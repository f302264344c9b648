package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/artifacts"
	"github.com/starford/perthro/internal/catalog"
	"github.com/starford/perthro/internal/extract"
	"github.com/starford/perthro/internal/photos"
	"github.com/starford/perthro/internal/storage"
)

const maxUploadBytes = 200 << 20 // 200 MB

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type artifactItem struct {
	FileID   string `json:"file_id"`
	Label    string `json:"label"`
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Parsed   bool   `json:"parsed"`
}

// ListArtifacts handles GET /api/artifacts.
//
//	@Summary		List the artifact catalog
//	@Tags			catalog
//	@Produce		json
//	@Security		BearerAuth
//	@Router			/artifacts [get]
func (h *Handler) ListArtifacts(w http.ResponseWriter, _ *http.Request) {
	specs := catalog.All()
	items := make([]artifactItem, len(specs))
	for i, s := range specs {
		_, parsed := artifacts.Lookup(s.Kind)
		items[i] = artifactItem{FileID: s.FileID, Label: s.Label, Filename: s.Filename, Kind: string(s.Kind), Parsed: parsed}
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": items, "parsers": artifacts.Kinds()})
}

// ListLabels handles GET /api/labels.
func (h *Handler) ListLabels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"labels": photos.Labels()})
}

// ListStrategies handles GET /api/strategies.
func (h *Handler) ListStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": extract.StrategyNames()})
}

// Address handles GET /api/address.
//
//	@Summary		Compute the content address of a logical path
//	@Tags			catalog
//	@Produce		json
//	@Param			domain	query		string	true	"Backup domain"
//	@Param			path	query		string	true	"Relative path within the domain"
//	@Success		200		{object}	AddressResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/address [get]
func (h *Handler) Address(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.svc.Address(q.Get("domain"), q.Get("path"))
	if err != nil {
		writeError(w, "address", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List runs with optional pagination
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, total, err := h.svc.ListRuns(limit, offset)
	if err != nil {
		writeError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total})
}

// GetRun handles GET /api/runs/{id}.
//
//	@Summary		Get a run with its results, recovery and parsed tables
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	RunDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.RunDetail(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CreateRun handles POST /api/runs. The run executes in the background;
// progress is published on /api/events.
//
//	@Summary		Start a run against a backup container
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRunRequest	true	"Run to start"
//	@Success		202		{object}	ledger.RunRow
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	run, err := h.svc.StartRun(req)
	if err != nil {
		writeError(w, "create run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// ReconcileRun handles POST /api/runs/{id}/reconcile.
//
//	@Summary		Re-check which requested photos are present
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	ReconcileResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/reconcile [post]
func (h *Handler) ReconcileRun(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "reconcile run", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ArchiveRun handles POST /api/runs/{id}/archive.
func (h *Handler) ArchiveRun(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "archive run", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// DownloadArchive handles GET /api/runs/{id}/archive.
func (h *Handler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path, err := h.svc.ArchivePath(id)
	if err != nil {
		writeError(w, "download archive", err)
		return
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorBody("archive not created"))
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.zip"`)
	http.ServeFile(w, r, path)
}

// ServeRunFile handles GET /api/runs/{id}/files/*.
func (h *Handler) ServeRunFile(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "serve file", err)
		return
	}
	rel := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if rel == "" || run.OutputDir == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("file path is required"))
		return
	}
	out, err := storage.NewFS(run.OutputDir)
	if err != nil {
		writeError(w, "serve file", err)
		return
	}
	abs, err := out.Path(rel)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid file path"))
		return
	}
	if info, statErr := os.Stat(abs); statErr != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	http.ServeFile(w, r, abs)
}

// UploadPhoto handles POST /api/runs/{id}/photos (multipart/form-data,
// field "file"). It stores a photo recovered by other means so that the
// next reconciliation counts it.
func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	n, err := h.svc.AddRecoveredPhoto(chi.URLParam(r, "id"), header.Filename, file)
	if err != nil {
		if errors.Is(err, apperr.ErrIO) {
			writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
			return
		}
		writeError(w, "upload photo", err)
		return
	}
	writeJSON(w, http.StatusCreated, UploadResponse{Filename: header.Filename, Size: n})
}
