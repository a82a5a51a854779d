package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuthMiddleware requires the configured admin token as a bearer
// token. Comparison is constant-time. When no token is configured the
// admin API is disabled outright.
func (h *Handler) TokenAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			WriteError(w, http.StatusForbidden, ErrCodeAdminDisabled,
				"admin API is disabled; set ADMIN_TOKEN to enable it")
			return
		}

		got := bearerToken(r)
		if got == "" {
			WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "missing admin token")
			return
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			h.logger.Warn("invalid admin token attempt", "remote_addr", r.RemoteAddr)
			WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
