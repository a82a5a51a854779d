// Package metrics provides Prometheus metrics collection for FetchGuard.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Global metric vectors, stored in atomic pointers so the record helpers
// are safe before Init runs (they become no-ops).
var (
	requestsTotal     atomic.Pointer[prometheus.CounterVec]
	requestDuration   atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal atomic.Pointer[prometheus.CounterVec]
	validationsTotal  atomic.Pointer[prometheus.CounterVec]
	fetchDuration     atomic.Pointer[prometheus.HistogramVec]
	licenseChecks     atomic.Pointer[prometheus.CounterVec]
	rateLimitedTotal  atomic.Pointer[prometheus.CounterVec]
)

// Init registers all metrics with the given registry. Call once at startup.
func Init(reg prometheus.Registerer) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchguard",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fetchguard",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchguard",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)
	if err := reg.Register(authFailuresTotalVec); err != nil {
		return fmt.Errorf("failed to register authFailuresTotal: %w", err)
	}

	validationsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchguard",
			Name:      "url_validations_total",
			Help:      "URL validation outcomes by rejection code",
		},
		[]string{"code"},
	)
	if err := reg.Register(validationsTotalVec); err != nil {
		return fmt.Errorf("failed to register validationsTotal: %w", err)
	}

	fetchDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fetchguard",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	if err := reg.Register(fetchDurationVec); err != nil {
		return fmt.Errorf("failed to register fetchDuration: %w", err)
	}

	licenseChecksVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchguard",
			Name:      "license_checks_total",
			Help:      "License verification outcomes",
		},
		[]string{"status"},
	)
	if err := reg.Register(licenseChecksVec); err != nil {
		return fmt.Errorf("failed to register licenseChecks: %w", err)
	}

	rateLimitedTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchguard",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
	if err := reg.Register(rateLimitedTotalVec); err != nil {
		return fmt.Errorf("failed to register rateLimitedTotal: %w", err)
	}

	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fetchguard",
			Name:      "info",
			Help:      "Service version information",
		},
		[]string{"version"},
	)
	if err := reg.Register(infoGaugeVec); err != nil {
		return fmt.Errorf("failed to register infoGauge: %w", err)
	}
	infoGaugeVec.WithLabelValues("1.0.0").Set(1)

	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	validationsTotal.Store(validationsTotalVec)
	fetchDuration.Store(fetchDurationVec)
	licenseChecks.Store(licenseChecksVec)
	rateLimitedTotal.Store(rateLimitedTotalVec)

	return nil
}

// RecordRequest increments the request counter.
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordRequestDuration records request latency in seconds.
func RecordRequestDuration(method, path, statusCode string, durationSeconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	}
}

// RecordAuthFailure increments the auth failure counter.
// Common reasons: "invalid_key", "missing_key".
func RecordAuthFailure(reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordValidation counts a URL validation outcome by its reason code.
func RecordValidation(code string) {
	if counter := validationsTotal.Load(); counter != nil {
		counter.WithLabelValues(code).Inc()
	}
}

// RecordFetchDuration records upstream fetch latency by response status.
func RecordFetchDuration(status string, durationSeconds float64) {
	if histogram := fetchDuration.Load(); histogram != nil {
		histogram.WithLabelValues(status).Observe(durationSeconds)
	}
}

// RecordLicenseCheck counts a license verification outcome
// ("issued", "expired", "tampered", "absent").
func RecordLicenseCheck(status string) {
	if counter := licenseChecks.Load(); counter != nil {
		counter.WithLabelValues(status).Inc()
	}
}

// RecordRateLimited counts a request shed by the rate limiter.
func RecordRateLimited(path string) {
	if counter := rateLimitedTotal.Load(); counter != nil {
		counter.WithLabelValues(path).Inc()
	}
}

// Handler returns the Prometheus text-format handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GetMetricsText renders a registry in text format; used by tests.
func GetMetricsText(reg prometheus.Gatherer) (string, error) {
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}
	return string(body), nil
}
