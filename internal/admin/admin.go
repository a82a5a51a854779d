// Package admin implements the operator API for managing proxy API keys
// and the issued-license registry. It is intended to be mounted on the
// internal listener, never the public one, and is protected by a single
// static bearer token.
package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/launchkit/fetchguard/internal/license"
	"github.com/launchkit/fetchguard/internal/storage"
)

// Handler serves the admin API.
type Handler struct {
	storage  storage.Storage
	licenses *license.Service
	logger   *slog.Logger
	token    string
}

// NewHandler creates an admin handler. An empty token disables the whole
// admin API; Router then rejects every request.
func NewHandler(store storage.Storage, licenses *license.Service, logger *slog.Logger, token string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		storage:  store,
		licenses: licenses,
		logger:   logger,
		token:    token,
	}
}

// Router returns the admin API routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.TokenAuthMiddleware)

	r.Route("/keys", func(r chi.Router) {
		r.Get("/", h.HandleListKeys)
		r.Post("/", h.HandleCreateKey)
		r.Delete("/{id}", h.HandleDeleteKey)
	})

	r.Route("/licenses", func(r chi.Router) {
		r.Get("/", h.HandleListLicenses)
		r.Post("/", h.HandleIssueLicense)
		r.Get("/{key}", h.HandleGetLicense)
	})

	return r
}
