package httpserver

import (
	"net/http"
	"time"

	"github.com/schematichub/overview-gateway/internal/health"
	"github.com/schematichub/overview-gateway/internal/version"
)

// HandleHealth reports dependency health. An unhealthy store yields 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  health.StatusHealthy,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": version.Map(),
	}
	status := http.StatusOK
	if s.health != nil {
		result := s.health.Check(r.Context())
		payload["status"] = result.Status
		payload["components"] = result.Components
		if result.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}
