package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "backtest-research-platform",
	})
}

// handleSystemStatus handles system status requests.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "running",
		"memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"num_gc":         m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	})
}

// handleRecentRuns lists recent indexed runs, optionally filtered by
// ?strategy= and bounded by ?limit= (default 20).
func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.artifacts.RecentRuns(r.Context(), r.URL.Query().Get("strategy"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// handleRunByID looks up one indexed run by its ID.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	run, ok, err := s.artifacts.RunByID(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleLatestArtifact serves a strategy's latest persisted run artefact
// straight off disk — the JSON file under cache/<strategy>/latest_result.json
// remains the source of truth; the SQLite index only speeds up lookups.
func (s *Server) handleLatestArtifact(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")
	path := filepath.Join(s.cacheDir, strategy, "latest_result.json")
	s.serveJSONFile(w, path)
}

// handleLatestScreenerReport serves the latest persisted screener report.
func (s *Server) handleLatestScreenerReport(w http.ResponseWriter, r *http.Request) {
	s.serveJSONFile(w, filepath.Join(s.cacheDir, "screener", "latest.json"))
}

func (s *Server) serveJSONFile(w http.ResponseWriter, path string) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.writeError(w, http.StatusNotFound, "no artefact has been persisted yet")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
