package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coday-ai/coday/internal/interact"
)

// messageRequest is the answer ingress body. parentKey pairs the answer
// with a pending invite or choice; without one the answer unblocks the
// newest pending question, or starts a new user turn.
type messageRequest struct {
	Answer    string `json:"answer"`
	ParentKey string `json:"parentKey,omitempty"`
}

// handleMessage serves POST /api/message?clientId=.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		s.jsonError(w, "clientId is required", http.StatusBadRequest)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.Get(clientID)
	if !ok {
		s.jsonError(w, "Unknown session", http.StatusNotFound)
		return
	}

	if err := sess.Deliver(req.Answer, req.ParentKey); err != nil {
		switch {
		case errors.Is(err, interact.ErrClosed):
			s.jsonError(w, "Unknown session", http.StatusNotFound)
		case errors.Is(err, interact.ErrBusy):
			s.jsonError(w, "Too many queued answers", http.StatusTooManyRequests)
		default:
			s.logger.Error("answer delivery failed", "client_id", clientID, "error", err)
			s.jsonError(w, "Failed to deliver answer", http.StatusInternalServerError)
		}
		return
	}
	s.jsonResponse(w, map[string]bool{"success": true})
}

// handleStop serves POST /api/stop?clientId=. 400 means the session is
// live but nothing is running.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		s.jsonError(w, "clientId is required", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.Get(clientID)
	if !ok {
		s.jsonError(w, "Unknown session", http.StatusNotFound)
		return
	}
	if !sess.StopRun() {
		s.jsonError(w, "No active run", http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, map[string]bool{"success": true})
}
