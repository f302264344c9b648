package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events and also accepts the
// token as the access_token query parameter.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	if sseHandler != nil {
		r.With(AuthMiddleware(authEnabled, token, true)).Get("/events", sseHandler.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token, false))
		routes(r, h)
	})

	return r
}

func routes(r chi.Router, h *Handler) {
	// Catalog.
	r.Get("/artifacts", h.ListArtifacts)
	r.Get("/labels", h.ListLabels)
	r.Get("/strategies", h.ListStrategies)
	r.Get("/address", h.Address)

	// Runs.
	r.Get("/runs", h.ListRuns)
	r.Post("/runs", h.CreateRun)
	r.Get("/runs/{id}", h.GetRun)
	r.Post("/runs/{id}/reconcile", h.ReconcileRun)
	r.Post("/runs/{id}/archive", h.ArchiveRun)
	r.Get("/runs/{id}/archive", h.DownloadArchive)
	r.Post("/runs/{id}/photos", h.UploadPhoto)
	r.Get("/runs/{id}/files/*", h.ServeRunFile)
}
