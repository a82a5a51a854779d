package admin

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/launchkit/fetchguard/internal/storage"
)

// KeyResponse represents an API key in responses. The key material itself
// appears only in the create response; afterwards only the hash is stored.
type KeyResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key,omitempty"`
}

// CreateKeyRequest is the request body for POST /admin/keys.
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// HandleListKeys returns all API keys (hashes excluded).
// GET /admin/keys
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.storage.ListAPIKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list API keys", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list keys")
		return
	}

	response := make([]KeyResponse, len(keys))
	for i, k := range keys {
		response[i] = KeyResponse{
			ID:        k.ID,
			Name:      k.Name,
			CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleCreateKey generates a new API key and stores its hash. The
// plaintext key is returned exactly once.
// POST /admin/keys
func (h *Handler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}

	key, err := generateKey()
	if err != nil {
		h.logger.Error("failed to generate API key", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to generate key")
		return
	}

	id, err := h.storage.CreateAPIKey(r.Context(), req.Name, key)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			WriteError(w, http.StatusConflict, ErrCodeDuplicate, "generated key collides with an existing one, retry")
			return
		}
		h.logger.Error("failed to store API key", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to store key")
		return
	}

	h.logger.Info("API key created", "id", id, "name", req.Name)
	writeJSON(w, http.StatusCreated, KeyResponse{
		ID:        id,
		Name:      req.Name,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Key:       key,
	})
}

// HandleDeleteKey revokes an API key.
// DELETE /admin/keys/{id}
func (h *Handler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid key ID")
		return
	}

	if err := h.storage.DeleteAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "key not found")
			return
		}
		h.logger.Error("failed to delete API key", "id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to delete key")
		return
	}

	h.logger.Info("API key deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// generateKey produces a new random API key with a recognizable prefix.
func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "fg_" + hex.EncodeToString(buf), nil
}
