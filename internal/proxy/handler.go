// Package proxy implements the outbound-fetch API: URL validation, the
// SSRF-guarded fetch relay, and server-side license verification.
package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/launchkit/fetchguard/internal/license"
	"github.com/launchkit/fetchguard/internal/metrics"
	"github.com/launchkit/fetchguard/internal/pinned"
	"github.com/launchkit/fetchguard/internal/urlcheck"
)

// Default limits for the fetch relay.
const (
	defaultFetchTimeout     = 30 * time.Second
	defaultMaxResponseBytes = 10 << 20 // 10 MiB
)

// Handler serves the fetch API endpoints.
type Handler struct {
	validator        *urlcheck.Validator
	licenses         *license.Service
	logger           *slog.Logger
	fetchTimeout     time.Duration
	maxResponseBytes int64

	// transportFor builds the outbound transport from validated addresses.
	// Overridable in tests; defaults to a pinned transport when addresses
	// are present.
	transportFor func(addrs []netip.Addr) http.RoundTripper
}

// NewHandler creates a fetch handler.
// If logger is nil, slog.Default() is used.
func NewHandler(validator *urlcheck.Validator, licenses *license.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		validator:        validator,
		licenses:         licenses,
		logger:           logger,
		fetchTimeout:     defaultFetchTimeout,
		maxResponseBytes: defaultMaxResponseBytes,
		transportFor:     defaultTransportFor,
	}
}

func defaultTransportFor(addrs []netip.Addr) http.RoundTripper {
	if len(addrs) == 0 {
		return http.DefaultTransport
	}
	return pinned.Transport(addrs)
}

// fetchRequest is the body of POST /v1/fetch and POST /v1/validate.
type fetchRequest struct {
	URL string `json:"url"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeFetchRequest parses the request body, rejecting unknown fields so
// option typos surface instead of being silently ignored.
func decodeFetchRequest(r *http.Request) (*fetchRequest, error) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req fetchRequest
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, errors.New("url field is required")
	}
	return &req, nil
}

// validationResponse is the JSON shape of a validation outcome.
type validationResponse struct {
	Valid  bool     `json:"valid"`
	Code   string   `json:"code"`
	Reason string   `json:"reason,omitempty"`
	Addrs  []string `json:"addrs,omitempty"`
}

func toValidationResponse(res *urlcheck.Result) validationResponse {
	out := validationResponse{
		Valid:  res.Valid,
		Code:   string(res.Code),
		Reason: res.Reason,
	}
	for _, a := range res.Addrs {
		out.Addrs = append(out.Addrs, a.String())
	}
	return out
}

// HandleValidate runs URL validation without fetching (dry run).
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFetchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res := h.validator.Validate(r.Context(), req.URL)
	metrics.RecordValidation(string(res.Code))
	if !res.Valid {
		h.logger.Info("URL rejected",
			"url", req.URL,
			"code", res.Code,
			"reason", res.Reason)
	}

	writeJSON(w, http.StatusOK, toValidationResponse(res))
}

// HandleFetch validates the URL and relays the upstream response.
//
// The outbound connection is pinned to the addresses resolved during
// validation; the hostname is never re-resolved. Redirects are returned to
// the caller rather than followed, since a redirect target has not been
// validated.
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFetchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res := h.validator.Validate(r.Context(), req.URL)
	metrics.RecordValidation(string(res.Code))
	if !res.Valid {
		h.logger.Info("fetch rejected",
			"url", req.URL,
			"code", res.Code,
			"reason", res.Reason)
		writeJSON(w, http.StatusBadRequest, toValidationResponse(res))
		return
	}

	client := &http.Client{
		Transport: h.transportFor(res.Addrs),
		Timeout:   h.fetchTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	outReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, res.URL.String(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	outReq.Header.Set("User-Agent", "fetchguard/1.0")

	start := time.Now()
	resp, err := client.Do(outReq)
	if err != nil {
		metrics.RecordFetchDuration("error", time.Since(start).Seconds())
		h.logger.Error("upstream fetch failed",
			"url", req.URL,
			"error", err)
		writeError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	metrics.RecordFetchDuration(strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Fetchguard-Url", res.URL.String())
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, io.LimitReader(resp.Body, h.maxResponseBytes)); err != nil {
		// The response is already underway; log and move on.
		h.logger.Warn("failed to relay upstream body", "url", req.URL, "error", err)
	}
}

// licenseVerifyResponse is the JSON shape of a license check.
type licenseVerifyResponse struct {
	Status    string `json:"status"`
	Entitled  bool   `json:"entitled"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// HandleLicenseVerify checks a submitted license record against the
// service secret and reports its state.
func (h *Handler) HandleLicenseVerify(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var rec license.Record
	if err := dec.Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid license record: "+err.Error())
		return
	}

	status := h.licenses.Check(&rec)
	metrics.RecordLicenseCheck(string(status))

	out := licenseVerifyResponse{
		Status:   string(status),
		Entitled: status.Entitled(),
	}
	if exp := rec.Payload.ExpiresAt(); !exp.IsZero() && status != license.StatusTampered {
		out.ExpiresAt = exp.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}
