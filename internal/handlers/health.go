package handlers

import (
	"net/http"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system    services.SystemService
	clock     func() time.Time
	startedAt time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the clock used for uptime.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthStartedAt sets the process start time reported as uptime.
func WithHealthStartedAt(t time.Time) HealthOption {
	return func(h *HealthHandlers) { h.startedAt = t }
}

// NewHealthHandlers builds probes. Without a system service /readyz only
// reports liveness.
func NewHealthHandlers(system services.SystemService, opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{system: system, clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.startedAt.IsZero() {
		h.startedAt = h.clock()
	}
	return h
}

// Healthz reports that the process is serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    domain.HealthStatusOK,
		"uptime":    now.Sub(h.startedAt).Round(time.Second).String(),
		"timestamp": formatTime(now),
	})
}

type readinessCheck struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Readyz probes downstream dependencies and returns 503 when any is failing.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status": domain.HealthStatusError,
			"error":  err.Error(),
		})
		return
	}
	checks := make(map[string]readinessCheck, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = readinessCheck{Status: check.Status, Detail: check.Detail, LatencyMS: check.Latency.Milliseconds()}
	}
	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, map[string]any{
		"status":      report.Status,
		"version":     report.Version,
		"checks":      checks,
		"generatedAt": formatTime(report.GeneratedAt),
	})
}
