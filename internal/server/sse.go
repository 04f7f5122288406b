package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/weavemesh/weave/internal/event"
	"github.com/weavemesh/weave/internal/logging"
	"github.com/weavemesh/weave/internal/session"
	"github.com/weavemesh/weave/pkg/wire"
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeEvent writes one SSE frame and flushes it.
func (s *sseWriter) writeEvent(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", jsonData); err != nil {
		return err
	}

	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// streamEvents is the long-lived stream an agent holds open for its entire
// participation in a session. Opening it registers the agent; the stream
// emits session.live once waitForAgents agents are simultaneously present,
// then pushes routed events until the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)

	q := r.URL.Query()
	agentID := q.Get("agentId")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, wire.ErrCodeInvalidRequest, "agentId required")
		return
	}
	waitForAgents := 1
	if raw := q.Get("waitForAgents"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, wire.ErrCodeInvalidRequest, "waitForAgents must be a positive integer")
			return
		}
		waitForAgents = n
	}

	sess := s.sessions.Get(key)

	// Subscribe before registering so no event published after the join is
	// missed.
	events, unsubscribe := sess.Bus().Subscribe(event.AgentTopic(agentID))
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, wire.ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	entry := sess.Register(wire.Agent{AgentID: agentID, Description: q.Get("agentDescription")})
	defer sess.Deregister(agentID, entry)

	// Barrier: hold the stream open but silent (except heartbeats) until
	// enough agents are present.
	barrier := make(chan error, 1)
	go func() {
		barrier <- sess.AwaitAgents(r.Context(), waitForAgents)
	}()

	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-barrier:
			if err != nil {
				return
			}
			break wait
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}

	live, err := wire.NewEvent(wire.SessionLive, wire.SessionLiveData{
		SessionID:  key.SessionID,
		AgentCount: sess.AgentCount(),
	})
	if err != nil {
		return
	}
	if err := sse.writeEvent(live); err != nil {
		return
	}

	logging.Debug().
		Str("session", key.String()).
		Str("agentId", agentID).
		Msg("stream live")

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.writeEvent(ev); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// sessionKey extracts the session address triple from the request path.
func sessionKey(r *http.Request) session.Key {
	return session.Key{
		ApplicationID: chi.URLParam(r, "applicationID"),
		PrivacyKey:    chi.URLParam(r, "privacyKey"),
		SessionID:     chi.URLParam(r, "sessionID"),
	}
}
