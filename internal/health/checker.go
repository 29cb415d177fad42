package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker is a single dependency health probe.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

const checkTimeout = 5 * time.Second

// Handler returns an HTTP handler that probes the named checkers and
// reports per-dependency status. Any failing dependency yields 503.
func Handler(checkers map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checkers))
		for name, checker := range checkers {
			if err := checker.HealthCheck(ctx); err != nil {
				results[name] = "unhealthy: " + err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": overall,
			"checks": results,
		})
	}
}
