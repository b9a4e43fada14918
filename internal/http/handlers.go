package http

import (
	"encoding/json"
	"net/http"

	. "github.com/roelfdiedericks/readmore/internal/logging"
	. "github.com/roelfdiedericks/readmore/internal/metrics"
)

// handleIndex serves the preview host page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only serve root path, not any other path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.reloadTemplatesIfDev(); err != nil {
		L_error("http: template reload error", "error", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	cfg := s.config()
	data := struct {
		Title         string
		MountSelector string
	}{
		Title:         "readmore preview",
		MountSelector: cfg.Page.MountSelector,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		L_error("http: template error", "error", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.connsMu.Lock()
	n := len(s.conns)
	s.connsMu.Unlock()

	writeJSON(w, struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}{Status: "ok", Connections: n})
}

// handleMetricsAPI handles GET /api/metrics
func (s *Server) handleMetricsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, GetInstance().GetSnapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_warn("http: encode response failed", "error", err)
	}
}
