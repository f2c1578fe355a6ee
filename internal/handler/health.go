package handler

import (
	"net/http"
	"time"

	"github.com/nesthaus/riskengine/internal/infra"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Sessions      int     `json:"sessions"`
	Archive       string  `json:"archive"`
	Error         string  `json:"error,omitempty"`
}

// HealthSource reports engine liveness.
type HealthSource interface {
	Uptime() time.Duration
	SessionCount() int
}

// HealthHandler returns a health check endpoint. db is nil when the archive is
// disabled; an unreachable archive makes the service unhealthy.
func HealthHandler(src HealthSource, db infra.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := HealthStatus{
			Status:        "healthy",
			UptimeSeconds: src.Uptime().Seconds(),
			Sessions:      src.SessionCount(),
			Archive:       "disabled",
		}
		if db == nil {
			RespondJSON(w, http.StatusOK, body)
			return
		}
		if err := infra.HealthCheck(r.Context(), db); err != nil {
			body.Status = "unhealthy"
			body.Archive = "unreachable"
			body.Error = err.Error()
			RespondJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body.Archive = "ok"
		RespondJSON(w, http.StatusOK, body)
	}
}
