package server

import (
	"encoding/json"
	"net/http"
)

// handleHealth responds with a liveness/readiness probe: process is up
// (status "ok"), and whether the broker connection is currently live.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.conn != nil && s.conn.Connected()

	w.Header().Set("Content-Type", "application/json")
	if !connected {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"broker_connected": connected,
	})
}

// handleBindings lists every address currently bound in the local
// router registry. Useful for diagnosing unexpected no_endpoint errors
// without attaching a debugger.
func (s *Server) handleBindings(w http.ResponseWriter, r *http.Request) {
	var bindings []string
	if s.gsb != nil {
		bindings = s.gsb.Bindings()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"bindings": bindings,
	})
}
