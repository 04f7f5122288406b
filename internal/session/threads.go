package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/weavemesh/weave/pkg/wire"
)

// Caller errors surfaced synchronously by thread and message operations.
// These are never retried by the server or the client.
var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrThreadNotFound = errors.New("thread not found")
	ErrThreadClosed   = errors.New("thread closed")
	ErrNotParticipant = errors.New("not a participant")
)

// CreateThread creates a new thread with the given participants. The creator
// is always a participant. Two calls with identical arguments produce two
// distinct threads.
func (s *Session) CreateThread(creator string, participants []string) (wire.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[creator]; !ok {
		return wire.Thread{}, fmt.Errorf("%w: %s", ErrUnknownAgent, creator)
	}
	members := map[string]struct{}{creator: {}}
	for _, p := range participants {
		if _, ok := s.agents[p]; !ok {
			return wire.Thread{}, fmt.Errorf("%w: %s", ErrUnknownAgent, p)
		}
		members[p] = struct{}{}
	}

	th := &thread{
		info: wire.Thread{
			ThreadID:  "thr_" + ulid.Make().String(),
			Creator:   creator,
			Open:      true,
			CreatedAt: time.Now().UnixMilli(),
		},
		participants: members,
	}
	s.threads[th.info.ThreadID] = th

	info := th.snapshotLocked()
	s.broadcastLocked(wire.ThreadCreated, wire.ThreadEventData{Thread: info}, th.participants)
	return info, nil
}

// AddParticipant adds an agent to an open thread. Adding an agent that is
// already a participant is a no-op.
func (s *Session) AddParticipant(threadID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if !th.info.Open {
		return fmt.Errorf("%w: %s", ErrThreadClosed, threadID)
	}
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if _, ok := th.participants[agentID]; ok {
		return nil
	}

	th.participants[agentID] = struct{}{}
	data := wire.ParticipantEventData{ThreadID: threadID, AgentID: agentID}
	s.broadcastLocked(wire.ParticipantAdded, data, th.participants)
	return nil
}

// RemoveParticipant removes an agent from an open thread. Removing an agent
// that is not a participant is a no-op.
func (s *Session) RemoveParticipant(threadID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if !th.info.Open {
		return fmt.Errorf("%w: %s", ErrThreadClosed, threadID)
	}
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if _, ok := th.participants[agentID]; !ok {
		return nil
	}

	// Notify the removed agent too, so its stream sees why messages stop.
	data := wire.ParticipantEventData{ThreadID: threadID, AgentID: agentID}
	s.broadcastLocked(wire.ParticipantRemoved, data, th.participants)
	delete(th.participants, agentID)
	return nil
}

// CloseThread closes a thread. Closing is terminal: a closed thread cannot
// be reopened and all subsequent sends fail. Only a participant may close.
func (s *Session) CloseThread(threadID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if !th.info.Open {
		return fmt.Errorf("%w: %s", ErrThreadClosed, threadID)
	}
	if _, ok := th.participants[agentID]; !ok {
		return fmt.Errorf("%w: %s in thread %s", ErrNotParticipant, agentID, threadID)
	}

	th.info.Open = false
	s.broadcastLocked(wire.ThreadClosed, wire.ThreadEventData{Thread: th.snapshotLocked()}, th.participants)
	return nil
}

// Thread returns a snapshot of one thread.
func (s *Session) Thread(threadID string) (wire.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return wire.Thread{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return th.snapshotLocked(), nil
}

// SendMessage posts a message to a thread and delivers it to every current
// participant's stream, the sender included. Mentions are not validated
// against the participant set. Delivery order is FIFO per sender-thread pair
// because routing happens under the session lock in handler-call order.
func (s *Session) SendMessage(threadID, sender, content string, mentions []string) (wire.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return wire.Message{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if !th.info.Open {
		return wire.Message{}, fmt.Errorf("%w: %s", ErrThreadClosed, threadID)
	}
	if _, ok := th.participants[sender]; !ok {
		return wire.Message{}, fmt.Errorf("%w: %s in thread %s", ErrNotParticipant, sender, threadID)
	}

	if mentions == nil {
		mentions = []string{}
	}
	msg := wire.Message{
		MessageID: "msg_" + ulid.Make().String(),
		ThreadID:  threadID,
		Sender:    sender,
		Content:   content,
		Mentions:  mentions,
		Timestamp: time.Now().UnixMilli(),
	}

	s.broadcastLocked(wire.MessageSent, wire.MessageEventData{Message: msg}, th.participants)
	return msg, nil
}

// snapshotLocked copies the thread info with its current participant list.
func (t *thread) snapshotLocked() wire.Thread {
	info := t.info
	info.Participants = make([]string, 0, len(t.participants))
	for p := range t.participants {
		info.Participants = append(info.Participants, p)
	}
	return info
}
