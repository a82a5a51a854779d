package proxy

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/launchkit/fetchguard/internal/auth"
	"github.com/launchkit/fetchguard/internal/metrics"
	"github.com/launchkit/fetchguard/internal/middleware"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig bundles the dependencies of the API router.
type RouterConfig struct {
	Handler     *Handler
	Auth        *auth.Validator
	RateLimiter *middleware.RateLimiter
	Store       Pinger
	Logger      *slog.Logger
	MaxBodySize int64
}

// loggingAllowlist lists JSON fields that may appear unmasked in debug
// request/response logs.
var loggingAllowlist = []string{"url", "valid", "code", "reason", "status", "entitled", "error"}

// NewRouter builds the API router.
//
// Health endpoints are unauthenticated and unmetered so orchestrators can
// probe them freely. Everything under /v1 runs through the full chain:
// request ID, debug logging, metrics, body limit, rate limit, API key auth.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(cfg.Store))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequestID)
		if cfg.Logger != nil {
			r.Use(middleware.HTTPLogging(cfg.Logger, loggingAllowlist))
		}
		r.Use(metrics.Middleware)
		if cfg.MaxBodySize > 0 {
			r.Use(middleware.MaxBodySize(cfg.MaxBodySize))
		}
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}
		if cfg.Auth != nil {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Post("/fetch", cfg.Handler.HandleFetch)
		r.Post("/validate", cfg.Handler.HandleValidate)
		r.Post("/license/verify", cfg.Handler.HandleLicenseVerify)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness, including backing-store reachability when
// a store is configured.
func handleReady(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  "storage unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
