package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/coday-ai/coday/internal/config"
)

// handleConfig is the level editor surface: GET returns one level with
// credentials masked, PUT accepts the edited document back. Masked
// values returned untouched are restored from the file on disk, so
// secrets never round-trip through the client.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	levelStr := r.URL.Query().Get("level")
	if levelStr == "" {
		levelStr = string(config.LevelCoday)
	}
	level, err := config.ParseLevel(levelStr)
	if err != nil {
		s.jsonError(w, "Unknown config level", http.StatusBadRequest)
		return
	}
	projectName := r.URL.Query().Get("project")
	if level != config.LevelCoday {
		if projectName == "" {
			s.jsonError(w, "project is required for this level", http.StatusBadRequest)
			return
		}
		if _, err := s.cfg.Project(projectName); err != nil {
			s.jsonError(w, "Unknown project", http.StatusNotFound)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		raw, err := s.cfg.ShowRaw(level, projectName, true)
		if err != nil {
			s.logger.Error("config read failed", "level", level, "project", projectName, "error", err)
			s.jsonError(w, "Failed to read config", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, map[string]any{"level": string(level), "config": raw})
	case http.MethodPut:
		if level == config.LevelCoday {
			s.jsonError(w, "The coday level is read-only", http.StatusForbidden)
			return
		}
		var incoming map[string]any
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			s.jsonError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.cfg.ApplyEdit(level, projectName, incoming); err != nil {
			s.logger.Error("config edit failed", "level", level, "project", projectName, "error", err)
			s.jsonError(w, "Failed to save config", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, map[string]any{"success": true})
	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
