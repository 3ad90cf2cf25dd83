package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/Arpitray/commerce/internal/domain"
	"github.com/Arpitray/commerce/internal/platform/httpx"
	"github.com/Arpitray/commerce/internal/repositories"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	checks  repositories.HealthRepository
	clock   func() time.Time
	started time.Time
	version string
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the clock used for uptime and timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
			h.started = clock()
		}
	}
}

// WithHealthVersion sets the build version reported by /healthz.
func WithHealthVersion(version string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
	}
}

// NewHealthHandlers constructs probe handlers. A nil checks repository makes /readyz report ok.
func NewHealthHandlers(checks repositories.HealthRepository, opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{checks: checks, clock: time.Now}
	h.started = h.clock()
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type healthzResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp"`
}

type readyzCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type readyzResponse struct {
	Status      string        `json:"status"`
	Checks      []readyzCheck `json:"checks"`
	GeneratedAt string        `json:"generatedAt"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, healthzResponse{
		Status:    domain.HealthStatusOK,
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
		Version:   h.version,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// Readyz runs dependency probes and answers 503 when any required dependency failed.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checks == nil {
		writeJSONResponse(w, http.StatusOK, readyzResponse{
			Status:      domain.HealthStatusOK,
			Checks:      []readyzCheck{},
			GeneratedAt: h.clock().UTC().Format(time.RFC3339),
		})
		return
	}

	report, err := h.checks.Collect(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", "unable to collect health checks", http.StatusServiceUnavailable))
		return
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make([]readyzCheck, 0, len(names))
	for _, name := range names {
		check := report.Checks[name]
		checks = append(checks, readyzCheck{
			Name:      name,
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		})
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, readyzResponse{
		Status:      report.Status,
		Checks:      checks,
		GeneratedAt: report.GeneratedAt.UTC().Format(time.RFC3339),
	})
}
