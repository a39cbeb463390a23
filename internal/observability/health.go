package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckHandler handles liveness check requests: it reports the
// process is up and serving, with no dependency fan-out.
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "ok",
			Service:   "callengine",
			Version:   "1.0.0",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// HealthCheckFunc probes one dependency and reports whether it is usable.
type HealthCheckFunc func(ctx context.Context) (bool, error)

// ReadinessHandler fans checks out over named dependencies in parallel
// and reports 503 if any of them fail. The check set is caller-supplied
// so this package has no knowledge of which external services exist.
func ReadinessHandler(checks map[string]HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		type result struct {
			name   string
			status DependencyStatus
			ok     bool
		}
		results := make(chan result, len(checks))

		for name, check := range checks {
			go func(name string, check HealthCheckFunc) {
				start := time.Now()
				healthy, err := check(ctx)
				latency := time.Since(start).Milliseconds()

				status := "healthy"
				message := ""
				if err != nil || !healthy {
					status = "unhealthy"
					if err != nil {
						message = err.Error()
					}
				}
				results <- result{
					name:   name,
					status: DependencyStatus{Status: status, Message: message, LatencyMs: latency},
					ok:     err == nil && healthy,
				}
			}(name, check)
		}

		dependencies := make(map[string]DependencyStatus, len(checks))
		allHealthy := true
		for range checks {
			r := <-results
			dependencies[r.name] = r.status
			if !r.ok {
				allHealthy = false
			}
		}

		status := HealthStatus{
			Status:       "ready",
			Service:      "callengine",
			Version:      "1.0.0",
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		if !allHealthy {
			status.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
