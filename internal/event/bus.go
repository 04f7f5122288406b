// Package event provides the per-session event fan-out using watermill.
//
// The Bus keeps watermill's gochannel as its pub/sub infrastructure (every
// published event is mirrored onto it, and PubSub exposes it for middleware
// or a future distributed backend) while delivery to stream handlers goes
// through direct per-subscriber channels. Direct delivery happens under the
// bus lock in publish-call order, which is what carries the
// per-sender-per-thread FIFO guarantee: the session router publishes under
// the session lock, and each subscriber channel preserves that order.
package event

import (
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/weavemesh/weave/internal/logging"
	"github.com/weavemesh/weave/pkg/wire"
)

// DefaultBuffer is the subscriber channel capacity. A subscriber that falls
// this far behind is disconnected: its channel is closed and the stream it
// feeds ends, pushing the client through its reconnect path.
const DefaultBuffer = 64

// Bus is a per-session event bus with per-topic ordered delivery.
type Bus struct {
	mu sync.RWMutex

	// Watermill pub/sub; mirrored publishes keep it usable for middleware
	// or when switching to a distributed backend.
	pubsub *gochannel.GoChannel

	subs   map[string][]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	id uint64
	ch chan wire.Event
}

// NewBus creates a session event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: DefaultBuffer,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subs: make(map[string][]*subscription),
	}
}

// AgentTopic returns the topic name owned by one agent's stream.
func AgentTopic(agentID string) string {
	return "agent." + agentID
}

// Subscribe registers an ordered subscriber channel for a topic and returns
// it with an unsubscribe function. The channel is closed on unsubscribe or
// bus close; it is never closed with events still owed to the subscriber
// ahead of later ones.
func (b *Bus) Subscribe(topic string) (<-chan wire.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan wire.Event)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	sub := &subscription{id: b.nextID, ch: make(chan wire.Event, DefaultBuffer)}
	b.subs[topic] = append(b.subs[topic], sub)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.unsubscribe(topic, sub.id) })
	}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	subs := b.subs[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish delivers an event to every subscriber of the topic, in publish
// order, without blocking the session. A subscriber whose buffer is full is
// disconnected: it keeps everything already buffered and then sees its
// channel close, so the only loss window is the reconnect gap the client
// already handles. Events are never dropped silently mid-sequence.
func (b *Bus) Publish(topic string, ev wire.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	subs := b.subs[topic]
	kept := subs[:0]
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
			kept = append(kept, sub)
		default:
			close(sub.ch)
			logging.Warn().
				Str("topic", topic).
				Str("eventType", string(ev.Type)).
				Msg("subscriber behind, disconnecting its stream")
		}
	}
	b.subs[topic] = kept

	// Mirror onto watermill for middleware/distributed consumers.
	if payload, err := json.Marshal(ev); err == nil {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("eventType", string(ev.Type))
		if err := b.pubsub.Publish(topic, msg); err != nil {
			logging.Warn().Err(err).Str("topic", topic).Msg("pubsub mirror publish failed")
		}
	}
}

// Close closes all subscriber channels and the underlying pub/sub, which
// terminates every stream fed by this bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use cases:
// middleware, routing, or switching to a distributed backend.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
