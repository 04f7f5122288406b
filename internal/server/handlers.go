package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weavemesh/weave/pkg/wire"
)

// listAgents returns a snapshot of the session's agent registry.
func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(sessionKey(r))
	writeJSON(w, http.StatusOK, sess.Agents())
}

// createThread creates a new thread. The creator is always a participant.
func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Creator == "" {
		writeError(w, http.StatusBadRequest, wire.ErrCodeInvalidRequest, "creator required")
		return
	}

	sess := s.sessions.Get(sessionKey(r))
	th, err := sess.CreateThread(req.Creator, req.Participants)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

// getThread returns a snapshot of one thread.
func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(sessionKey(r))
	th, err := sess.Thread(chi.URLParam(r, "threadID"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

// addParticipant adds an agent to a thread. Duplicate adds are no-ops.
func (s *Server) addParticipant(w http.ResponseWriter, r *http.Request) {
	var req wire.ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, wire.ErrCodeInvalidRequest, "agentId required")
		return
	}

	sess := s.sessions.Get(sessionKey(r))
	if err := sess.AddParticipant(chi.URLParam(r, "threadID"), req.AgentID); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// removeParticipant removes an agent from a thread.
func (s *Server) removeParticipant(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(sessionKey(r))
	if err := sess.RemoveParticipant(chi.URLParam(r, "threadID"), chi.URLParam(r, "agentID")); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// sendMessage posts a message to a thread and routes it to all current
// participants.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req wire.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Sender == "" {
		writeError(w, http.StatusBadRequest, wire.ErrCodeInvalidRequest, "sender required")
		return
	}

	sess := s.sessions.Get(sessionKey(r))
	msg, err := sess.SendMessage(chi.URLParam(r, "threadID"), req.Sender, req.Content, req.Mentions)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// closeThread closes a thread. Closing is terminal.
func (s *Server) closeThread(w http.ResponseWriter, r *http.Request) {
	var req wire.CloseThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, wire.ErrCodeInvalidRequest, "agentId required")
		return
	}

	sess := s.sessions.Get(sessionKey(r))
	if err := sess.CloseThread(chi.URLParam(r, "threadID"), req.AgentID); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
