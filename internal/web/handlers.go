package web

import (
	"net/http"
	"time"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	h := s.res.CheckHealth()
	resp := map[string]any{
		"ok":         true,
		"sessions":   h.Sessions,
		"live_locks": h.LiveLocks,
		"uptime":     h.Uptime,
		"time":       time.Now().UTC().Format(time.RFC3339),
	}
	if !h.LastIngest.IsZero() {
		resp["last_ingest"] = h.LastIngest.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorized(r, false) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "path query parameter is required")
		return
	}

	writeJSON(w, http.StatusOK, s.res.Resolve(path))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorized(r, false) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.res.ListSessions()})
}
