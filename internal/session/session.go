// Package session holds the server-side state of a shared agent session:
// the agent registry with its join barrier, the thread table, and the
// message router that fans messages out to participant streams.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/weavemesh/weave/internal/event"
	"github.com/weavemesh/weave/internal/logging"
	"github.com/weavemesh/weave/pkg/wire"
)

// Key addresses one session. All participating agents must agree on the
// triple out-of-band; the privacy key is the only access control.
type Key struct {
	ApplicationID string
	PrivacyKey    string
	SessionID     string
}

// String renders the key for logging.
func (k Key) String() string {
	return strings.Join([]string{k.ApplicationID, k.SessionID}, "/")
}

// Session is the authoritative state for one session key. All mutation goes
// through its methods under one mutex; clients only ever observe snapshots
// or receive pushed events.
type Session struct {
	key Key
	bus *event.Bus

	mu      sync.Mutex
	agents  map[string]*wire.Agent
	threads map[string]*thread
	changed chan struct{}
}

type thread struct {
	info         wire.Thread
	participants map[string]struct{}
}

func newSession(key Key) *Session {
	return &Session{
		key:     key,
		bus:     event.NewBus(),
		agents:  make(map[string]*wire.Agent),
		threads: make(map[string]*thread),
		changed: make(chan struct{}),
	}
}

// Bus returns the session's event bus. Streams subscribe to their agent
// topic before registering so no event is missed.
func (s *Session) Bus() *event.Bus {
	return s.bus
}

// Register adds an agent to the registry and broadcasts agent.joined.
// Registering an already-present agent id replaces the previous entry,
// which is what lets a reconnecting agent resume its identity. The returned
// entry is the stream's proof of ownership: Deregister removes the agent
// only when handed the entry that is still current, so a stale stream that
// outlives its replacement cannot remove the live registration.
func (s *Session) Register(agent wire.Agent) *wire.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent.ConnectedAt = time.Now().UnixMilli()
	entry := &agent
	s.agents[agent.AgentID] = entry
	s.notifyLocked()

	s.broadcastLocked(wire.AgentJoined, wire.AgentLifecycleData{Agent: agent}, nil)

	logging.Info().
		Str("session", s.key.String()).
		Str("agentId", agent.AgentID).
		Int("agents", len(s.agents)).
		Msg("agent registered")
	return entry
}

// Deregister removes an agent and broadcasts agent.left. It is a no-op when
// entry is no longer the current registration: the agent has reconnected and
// the registry now belongs to the new stream. Threads keep the agent as a
// participant so a reconnect resumes membership.
func (s *Session) Deregister(agentID string, entry *wire.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.agents[agentID]
	if !ok || current != entry {
		return
	}
	delete(s.agents, agentID)
	s.notifyLocked()

	s.broadcastLocked(wire.AgentLeft, wire.AgentLifecycleData{Agent: *current}, nil)

	logging.Info().
		Str("session", s.key.String()).
		Str("agentId", agentID).
		Int("agents", len(s.agents)).
		Msg("agent deregistered")
}

// Agents returns a snapshot of the registry.
func (s *Session) Agents() []wire.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]wire.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, *a)
	}
	return agents
}

// AgentCount returns the number of currently registered agents.
func (s *Session) AgentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

// AwaitAgents blocks until at least n agents are simultaneously registered
// or ctx is done. This is the waitForAgents barrier behind a stream open.
func (s *Session) AwaitAgents(ctx context.Context, n int) error {
	for {
		s.mu.Lock()
		if len(s.agents) >= n {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// notifyLocked wakes all barrier waiters. Callers hold s.mu.
func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// broadcastLocked publishes an event to a set of agent topics, or to every
// registered agent when targets is nil. Callers hold s.mu; publishing under
// the lock gives every topic the same cross-event order.
func (s *Session) broadcastLocked(t wire.EventType, data any, targets map[string]struct{}) {
	ev, err := wire.NewEvent(t, data)
	if err != nil {
		logging.Error().Err(err).Str("eventType", string(t)).Msg("marshal event")
		return
	}

	if targets == nil {
		for agentID := range s.agents {
			s.bus.Publish(event.AgentTopic(agentID), ev)
		}
		return
	}
	for agentID := range targets {
		s.bus.Publish(event.AgentTopic(agentID), ev)
	}
}

// Store hands out sessions by key, creating them on first use. Session state
// lives for the process lifetime only.
type Store struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[Key]*Session)}
}

// Get returns the session for key, creating it if needed.
func (st *Store) Get(key Key) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[key]
	if !ok {
		s = newSession(key)
		st.sessions[key] = s
	}
	return s
}

// Close shuts down all session buses.
func (st *Store) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	var firstErr error
	for _, s := range st.sessions {
		if err := s.bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
