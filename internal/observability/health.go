package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthChecker aggregates named component checks into one report. The
// overall status is the worst component status.
type HealthChecker struct {
	version   string
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheckFunc
}

// HealthCheckFunc defines a function that checks component health.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck adds or replaces the check for a component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = checkFunc
}

func severity(s HealthStatus) int {
	switch s {
	case HealthStatusUnhealthy:
		return 2
	case HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check runs every registered check.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	response := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth, len(hc.checks)),
	}
	for name, checkFunc := range hc.checks {
		health := checkFunc(ctx)
		response.Checks[name] = health
		if severity(health.Status) > severity(response.Status) {
			response.Status = health.Status
		}
	}
	return response
}

// Handler serves the report as JSON. Unhealthy maps to 503; degraded still
// answers 200 so the process is not restarted for a shrunken window.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// WindowCheck reports degraded while the congestion window sits at its floor,
// which only happens after repeated give-ups.
func WindowCheck(window func() (cwnd, inFlight int)) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		cwnd, inFlight := window()
		msg := fmt.Sprintf("cwnd=%d in_flight=%d", cwnd, inFlight)
		if cwnd <= 1 {
			return ComponentHealth{Status: HealthStatusDegraded, Message: msg}
		}
		return ComponentHealth{Status: HealthStatusOK, Message: msg}
	}
}

// EndpointCheck reports unhealthy once the engine owning addr has stopped.
func EndpointCheck(addr string, running func() bool) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if running() {
			return ComponentHealth{
				Status:  HealthStatusOK,
				Message: fmt.Sprintf("datagram endpoint on %s", addr),
			}
		}
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: fmt.Sprintf("engine on %s stopped", addr),
		}
	}
}
