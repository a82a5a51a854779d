package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/launchkit/fetchguard/internal/license"
	"github.com/launchkit/fetchguard/internal/storage"
)

// IssueLicenseRequest is the request body for POST /admin/licenses.
type IssueLicenseRequest struct {
	CustomerID string `json:"customer_id"`
	Tier       string `json:"tier"`
	IsFounder  bool   `json:"is_founder"`
}

// LicenseResponse represents a registry entry in API responses. Record is
// the full signed record; it is present only on issue and single-license
// lookups.
type LicenseResponse struct {
	ID         int64           `json:"id"`
	LicenseKey string          `json:"license_key"`
	CustomerID string          `json:"customer_id"`
	Tier       string          `json:"tier"`
	IsFounder  bool            `json:"is_founder"`
	IssuedAt   string          `json:"issued_at"`
	Record     json.RawMessage `json:"record,omitempty"`
}

func toLicenseResponse(lic *storage.IssuedLicense) LicenseResponse {
	return LicenseResponse{
		ID:         lic.ID,
		LicenseKey: lic.LicenseKey,
		CustomerID: lic.CustomerID,
		Tier:       lic.Tier,
		IsFounder:  lic.IsFounder,
		IssuedAt:   lic.IssuedAt.UTC().Format(time.RFC3339),
		Record:     lic.Record,
	}
}

// HandleIssueLicense signs a new license and records it in the registry.
// POST /admin/licenses
func (h *Handler) HandleIssueLicense(w http.ResponseWriter, r *http.Request) {
	var req IssueLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON")
		return
	}

	rec, err := h.licenses.Issue(req.CustomerID, license.Tier(req.Tier), req.IsFounder)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		h.logger.Error("failed to encode license record", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to encode record")
		return
	}

	entry := &storage.IssuedLicense{
		LicenseKey: rec.LicenseKey,
		CustomerID: rec.Payload.CustomerID,
		Tier:       string(rec.Payload.Tier),
		IsFounder:  rec.Payload.IsFounder,
		IssuedAt:   time.UnixMilli(rec.Payload.IssuedAt).UTC(),
		Record:     raw,
	}

	id, err := h.storage.RecordLicense(r.Context(), entry)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Key derivation is deterministic, so reissuing the same
			// customer/tier/founder combination hits the registry unique
			// constraint. Return the signed record anyway.
			h.logger.Info("license already registered", "license_key", rec.LicenseKey)
			writeJSON(w, http.StatusOK, LicenseResponse{
				LicenseKey: rec.LicenseKey,
				CustomerID: rec.Payload.CustomerID,
				Tier:       string(rec.Payload.Tier),
				IsFounder:  rec.Payload.IsFounder,
				IssuedAt:   time.UnixMilli(rec.Payload.IssuedAt).UTC().Format(time.RFC3339),
				Record:     raw,
			})
			return
		}
		h.logger.Error("failed to record license", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to record license")
		return
	}

	h.logger.Info("license issued",
		"id", id,
		"license_key", rec.LicenseKey,
		"customer_id", rec.Payload.CustomerID,
		"tier", rec.Payload.Tier)

	entry.ID = id
	writeJSON(w, http.StatusCreated, toLicenseResponse(entry))
}

// HandleListLicenses returns the registry without the signed records.
// GET /admin/licenses
func (h *Handler) HandleListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.storage.ListLicenses(r.Context())
	if err != nil {
		h.logger.Error("failed to list licenses", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list licenses")
		return
	}

	response := make([]LicenseResponse, len(licenses))
	for i, lic := range licenses {
		response[i] = toLicenseResponse(lic)
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleGetLicense returns one registry entry with its decrypted record.
// GET /admin/licenses/{key}
func (h *Handler) HandleGetLicense(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	lic, err := h.storage.GetLicenseByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "license not found")
			return
		}
		h.logger.Error("failed to get license", "license_key", key, "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to get license")
		return
	}

	writeJSON(w, http.StatusOK, toLicenseResponse(lic))
}
