// Package wire defines the JSON types exchanged between agents and the
// session server: registry entries, threads, messages, and the event
// envelopes pushed over the SSE stream.
package wire

import "encoding/json"

// Agent is a registry entry for one connected agent.
type Agent struct {
	AgentID     string `json:"agentId"`
	Description string `json:"agentDescription"`
	ConnectedAt int64  `json:"connectedAt"`
}

// Thread is a named, closable sub-channel of a session scoping messages
// to a set of participants.
type Thread struct {
	ThreadID     string   `json:"threadId"`
	Creator      string   `json:"creator"`
	Participants []string `json:"participants"`
	Open         bool     `json:"open"`
	CreatedAt    int64    `json:"createdAt"`
}

// Message is one message posted to a thread. Immutable once sent.
type Message struct {
	MessageID string   `json:"messageId"`
	ThreadID  string   `json:"threadId"`
	Sender    string   `json:"sender"`
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions"`
	Timestamp int64    `json:"timestamp"`
}

// EventType identifies a session event pushed over the stream.
type EventType string

const (
	SessionLive        EventType = "session.live"
	AgentJoined        EventType = "agent.joined"
	AgentLeft          EventType = "agent.left"
	ThreadCreated      EventType = "thread.created"
	ThreadClosed       EventType = "thread.closed"
	ParticipantAdded   EventType = "participant.added"
	ParticipantRemoved EventType = "participant.removed"
	MessageSent        EventType = "message.sent"
)

// Event is the envelope written as SSE data frames.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an event envelope.
func NewEvent(t EventType, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Data: raw}, nil
}

// SessionLiveData announces that the join barrier is satisfied for the
// receiving agent's stream.
type SessionLiveData struct {
	SessionID  string `json:"sessionId"`
	AgentCount int    `json:"agentCount"`
}

// AgentLifecycleData accompanies agent.joined and agent.left events.
type AgentLifecycleData struct {
	Agent Agent `json:"agent"`
}

// ThreadEventData accompanies thread.created and thread.closed events.
type ThreadEventData struct {
	Thread Thread `json:"thread"`
}

// ParticipantEventData accompanies participant.added and participant.removed.
type ParticipantEventData struct {
	ThreadID string `json:"threadId"`
	AgentID  string `json:"agentId"`
}

// MessageEventData accompanies message.sent events.
type MessageEventData struct {
	Message Message `json:"message"`
}

// CreateThreadRequest is the body of POST .../threads.
type CreateThreadRequest struct {
	Creator      string   `json:"creator"`
	Participants []string `json:"participants"`
}

// ParticipantRequest is the body of POST .../threads/{threadId}/participants.
type ParticipantRequest struct {
	AgentID string `json:"agentId"`
}

// SendMessageRequest is the body of POST .../threads/{threadId}/messages.
type SendMessageRequest struct {
	Sender   string   `json:"sender"`
	Content  string   `json:"content"`
	Mentions []string `json:"mentions"`
}

// CloseThreadRequest is the body of POST .../threads/{threadId}/close.
type CloseThreadRequest struct {
	AgentID string `json:"agentId"`
}

// Error codes carried in the error envelope. The client maps these back to
// typed errors.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnknownAgent   = "UNKNOWN_AGENT"
	ErrCodeThreadNotFound = "THREAD_NOT_FOUND"
	ErrCodeThreadClosed   = "THREAD_CLOSED"
	ErrCodeNotParticipant = "NOT_PARTICIPANT"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON error envelope returned by command endpoints.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
