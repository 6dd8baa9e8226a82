package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	// Nil metrics yield an empty snapshot.
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}
