package handler

import (
	"context"
	"net/http"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	agent     string
	startedAt time.Time
	checks    map[string]Check
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name
// (chain, postgres, redis, s3) to its probe.
func NewHealthHandler(agent string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{agent: agent, startedAt: time.Now(), checks: checks}
}

// HealthCheck runs every probe with a short deadline. Any failing probe
// turns the response into a 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":         overall,
		"agent":          h.agent,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"dependencies":   deps,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
