package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/launchkit/fetchguard/internal/metrics"
)

type contextKey string

const keyInfoContextKey contextKey = "keyInfo"

// Middleware returns chi-compatible middleware that requires a valid API
// key in the Authorization header. The validated KeyInfo is attached to the
// request context for handlers and later middleware.
func Middleware(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := extractBearerToken(r)
			if apiKey == "" {
				metrics.RecordAuthFailure("missing_key")
				writeJSONError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			keyInfo, err := v.ValidateKey(r.Context(), apiKey)
			if err != nil {
				if errors.Is(err, ErrInvalidKey) {
					metrics.RecordAuthFailure("invalid_key")
					writeJSONError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), keyInfoContextKey, keyInfo)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyInfo retrieves the validated KeyInfo from the request context.
// Returns nil outside an authenticated request.
func GetKeyInfo(ctx context.Context) *KeyInfo {
	if v := ctx.Value(keyInfoContextKey); v != nil {
		if info, ok := v.(*KeyInfo); ok {
			return info
		}
	}
	return nil
}

// extractBearerToken gets the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
