package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/reideval/reid-eval/internal/bus"
	"github.com/reideval/reid-eval/internal/metrics"
)

// Pinger is implemented by backends that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports the state of the server's backends.
type HealthChecker struct {
	busType string
	bus     bus.Bus
	history metrics.History
	started time.Time
}

// NewHealthChecker creates a health checker. history may be nil.
func NewHealthChecker(busType string, b bus.Bus, history metrics.History) *HealthChecker {
	return &HealthChecker{
		busType: busType,
		bus:     b,
		history: history,
		started: time.Now(),
	}
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status     string               `json:"status"` // healthy, degraded, unhealthy
	Timestamp  time.Time            `json:"timestamp"`
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime,omitempty"`
	Components map[string]Component `json:"components"`
}

// Component represents a component's health.
type Component struct {
	Status  string `json:"status"` // healthy, degraded, unhealthy
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// Check performs a full health check. A missing bus makes the server
// unhealthy; an unreachable history only degrades it since evaluations
// still succeed without one.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: make(map[string]Component),
	}

	busHealth := h.checkBus()
	status.Components["bus"] = busHealth
	if busHealth.Status != "healthy" {
		status.Status = "unhealthy"
	}

	historyHealth := h.checkHistory(ctx)
	status.Components["history"] = historyHealth
	if historyHealth.Status != "healthy" && status.Status == "healthy" {
		status.Status = "degraded"
	}

	return status
}

func (h *HealthChecker) checkBus() Component {
	if h.bus == nil {
		return Component{Status: "unhealthy", Message: "event bus not configured"}
	}
	return Component{Status: "healthy", Message: h.busType}
}

func (h *HealthChecker) checkHistory(ctx context.Context) Component {
	if h.history == nil {
		return Component{Status: "healthy", Message: "disabled"}
	}

	p, ok := h.history.(Pinger)
	if !ok {
		return Component{Status: "healthy", Message: "in-memory"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Component{
			Status:  "degraded",
			Message: err.Error(),
			Latency: time.Since(start).Milliseconds(),
		}
	}
	return Component{Status: "healthy", Latency: time.Since(start).Milliseconds()}
}

// HealthHandler serves health and version endpoints.
type HealthHandler struct {
	checker *HealthChecker
	version string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker *HealthChecker, version string) *HealthHandler {
	return &HealthHandler{checker: checker, version: version}
}

// RegisterRoutes registers health routes.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /v1/version", h.handleVersion)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.checker.Check(r.Context())
	status.Version = h.version

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (h *HealthHandler) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": h.version})
}
