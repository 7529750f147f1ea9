package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/coday-ai/coday/internal/config"
	"github.com/coday-ai/coday/pkg/events"
)

// handleEvents serves GET /events?clientId=. Connecting creates the
// client's session or cancels its pending termination; the response
// then streams every session event as one `data:` frame, with
// heartbeats filling idle gaps so dead peers surface.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		s.jsonError(w, "clientId is required", http.StatusBadRequest)
		return
	}

	projectName := r.URL.Query().Get("project")
	if projectName != "" {
		doc, err := s.cfg.Coday()
		if err != nil {
			s.logger.Error("coday config unavailable", "error", err)
			s.jsonError(w, "Failed to load configuration", http.StatusInternalServerError)
			return
		}
		if _, ok := config.FindProject(doc.Projects, projectName); !ok {
			s.jsonError(w, "Unknown project", http.StatusNotFound)
			return
		}
	}

	sess, created, err := s.sessions.Connect(clientID, projectName)
	if err != nil {
		s.jsonError(w, "Gateway shutting down", http.StatusServiceUnavailable)
		return
	}
	defer sess.detach()

	sub, cancelSub := sess.Events()
	defer cancelSub()

	s.metrics.StreamConnected()
	defer s.metrics.StreamDisconnected()
	s.logger.Info("stream opened", "client_id", clientID, "new_session", created)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("stream client gone", "client_id", clientID)
			return
		case e, open := <-sub:
			if !open {
				return
			}
			if err := writeEvent(w, flusher, e); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := writeEvent(w, flusher, events.NewHeartBeat()); err != nil {
				return
			}
		}
	}
}

// writeEvent serialises one event as a single-line SSE data frame.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, e events.Event) error {
	data, err := events.Encode(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
