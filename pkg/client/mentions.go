package client

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/weavemesh/weave/pkg/wire"
)

// pump drains one stream's inbound events and queues every message that
// mentions this agent. It exits when the stream ends, signaling drained so
// the supervisor only starts the replacement pump once every pre-drop event
// has been consumed. The mention queue itself survives reconnects, so
// already-queued mentions are never lost to a drop.
func (c *Client) pump(st *stream) {
	defer close(st.drained)

	for ev := range st.events {
		if ev.Type != wire.MessageSent {
			continue
		}
		var data wire.MessageEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed message event")
			continue
		}
		if !slices.Contains(data.Message.Mentions, c.cfg.Identity.AgentID) {
			continue
		}

		select {
		case c.mentions <- &data.Message:
		default:
			c.log.Warn().
				Str("messageId", data.Message.MessageID).
				Str("threadId", data.Message.ThreadID).
				Msg("mention queue full, dropping message")
		}
	}
}

// WaitForMentions blocks until a message mentioning this agent arrives or
// timeout elapses. It returns one message per call, oldest first; mentions
// that arrived while not waiting stay queued for successive calls.
//
// A nil message with a nil error is the no-mention outcome of a timeout, so
// callers can loop indefinitely. A non-nil error means the wait itself
// failed: ctx was canceled, or the client reached the Closed state.
func (c *Client) WaitForMentions(ctx context.Context, timeout time.Duration) (*wire.Message, error) {
	// Drain before anything else so queued mentions are returned even after
	// the connection has closed.
	select {
	case msg := <-c.mentions:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.mentions:
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// A mention may have been queued while we raced the shutdown.
		select {
		case msg := <-c.mentions:
			return msg, nil
		default:
		}
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClientClosed
	}
}
