package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	Unhealthy      int    `json:"unhealthy_sessions"`
}

// HealthHandler reports gateway status along with how many live clients have
// stopped getting answers from ADCortex.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	resp := healthResponse{Status: "ok"}
	s.mu.Lock()
	resp.ActiveSessions = len(s.clients)
	for _, lc := range s.clients {
		if !lc.IsHealthy() {
			resp.Unhealthy++
		}
	}
	s.mu.Unlock()
	if resp.ActiveSessions > 0 && resp.Unhealthy == resp.ActiveSessions {
		resp.Status = "degraded"
	}

	_ = writeJSON(w, http.StatusOK, resp)

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
