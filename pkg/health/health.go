// Package health serves the liveness and readiness endpoints. Liveness
// is a bare process check; readiness probes each registered dependency
// and reports per-dependency status and latency.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

const probeTimeout = 2 * time.Second

// Check probes one dependency, returning nil when it is healthy.
type Check func(ctx context.Context) error

// Recorder is notified once per dependency probe.
type Recorder func(ctx context.Context, dependency string, d time.Duration, up bool)

type namedCheck struct {
	name  string
	check Check
}

// Handler runs readiness checks and renders the health endpoints.
type Handler struct {
	mu      sync.RWMutex
	checks  []namedCheck
	observe Recorder
}

// NewHandler creates a handler. observe may be nil.
func NewHandler(observe Recorder) *Handler {
	if observe == nil {
		observe = func(context.Context, string, time.Duration, bool) {}
	}
	return &Handler{observe: observe}
}

// Register adds a named readiness check.
func (h *Handler) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

type dependencyStatus struct {
	Status     string  `json:"status"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

type readiness struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

// Live always returns 200 while the process can serve requests.
func (*Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready probes every dependency with a bounded timeout and returns 200
// only when all of them pass.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make([]namedCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	result := readiness{
		Status:       "ok",
		Dependencies: make(map[string]dependencyStatus, len(checks)),
	}
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		start := time.Now()
		err := c.check(ctx)
		elapsed := time.Since(start)
		cancel()

		h.observe(r.Context(), c.name, elapsed, err == nil)
		status := dependencyStatus{
			Status:     "up",
			DurationMS: float64(elapsed.Microseconds()) / 1000,
		}
		if err != nil {
			status.Status = "down"
			status.Error = err.Error()
			result.Status = "degraded"
			logger.Warnw("readiness check failed", "dependency", c.name, "error", err)
		}
		result.Dependencies[c.name] = status
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
