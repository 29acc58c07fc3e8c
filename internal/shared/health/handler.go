package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Handler provides health check HTTP endpoints
type Handler struct {
	mu        sync.RWMutex
	checks    map[string]Check
	readiness []Check
	startTime time.Time
}

// Check represents a health check function
type Check func(context.Context) error

// Response represents a health check response
type Response struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
}

// CheckResult represents a single check result
type CheckResult struct {
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// NewHandler creates a new health handler
func NewHandler() *Handler {
	return &Handler{
		checks:    make(map[string]Check),
		startTime: time.Now(),
	}
}

// AddCheck adds a named health check
func (h *Handler) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// AddReadinessCheck adds a readiness check
func (h *Handler) AddReadinessCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, check)
}

// HandleHealth handles the /health endpoint
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := h.performChecks(r.Context())

	statusCode := http.StatusOK
	if response.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// HandleReady handles the /ready endpoint (Kubernetes readiness)
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.mu.RLock()
	readiness := h.readiness
	h.mu.RUnlock()

	for _, check := range readiness {
		if err := check(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ready",
	})
}

// HandleLive handles the /live endpoint (Kubernetes liveness)
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
	})
}

// RegisterHandlers registers all health endpoints on a mux
func (h *Handler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/ready", h.HandleReady)
	mux.HandleFunc("/live", h.HandleLive)
}

// performChecks runs all registered health checks
func (h *Handler) performChecks(ctx context.Context) Response {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make(map[string]CheckResult)
	overallStatus := "healthy"

	for name, check := range h.checks {
		start := time.Now()
		err := check(ctx)
		duration := time.Since(start)

		result := CheckResult{
			Status:   "healthy",
			Duration: duration / time.Millisecond,
		}

		if err != nil {
			result.Status = "unhealthy"
			result.Error = err.Error()
			overallStatus = "unhealthy"
		}

		results[name] = result
	}

	return Response{
		Status:    overallStatus,
		Checks:    results,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now(),
	}
}
