// Package client implements the agent side of the weave session protocol:
// resolving the connection descriptor, holding the event stream open,
// invoking the session operations, waiting on mentions, and keeping the
// connection alive across transient failures.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/weavemesh/weave/internal/logging"
	"github.com/weavemesh/weave/pkg/wire"
)

// ConnectionState is the reconnection supervisor's view of the channel.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateJoined
	StateDegraded
	StateClosed
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds everything needed to join a session.
type Config struct {
	// ServerURL is the session server base URL, e.g. "http://localhost:5555".
	ServerURL string
	// Mode is the endpoint namespace prefix. Defaults to "devmode".
	Mode     string
	Address  SessionAddress
	Identity Identity

	// MaxRetries bounds reconnect attempts after a stream drop. The retry
	// delay is fixed, not exponential. Zero means the default of 3; a
	// negative value disables retries entirely.
	MaxRetries int
	RetryDelay time.Duration

	// OpenTimeout bounds how long a stream open may wait for the
	// waitForAgents barrier.
	OpenTimeout time.Duration

	// MentionBuffer is the capacity of the mention queue.
	MentionBuffer int

	// HTTPClient is used for command calls. The stream uses its own client
	// without a timeout. Defaults to a 30s-timeout client.
	HTTPClient *http.Client
}

func (cfg Config) withDefaults() Config {
	if cfg.Mode == "" {
		cfg.Mode = DefaultMode
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 5 * time.Minute
	}
	if cfg.MentionBuffer == 0 {
		cfg.MentionBuffer = 128
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return cfg
}

// Client is one agent's handle on a session. It owns exactly one stream at
// a time; all methods are safe for concurrent use.
type Client struct {
	cfg      Config
	endpoint string
	base     string
	streamHC *http.Client
	log      zerolog.Logger

	state    atomic.Int32
	mentions chan *wire.Message

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	stream   *stream
	fatalErr error
	closed   bool
}

// Connect resolves the session descriptor, opens the stream (registering the
// identity and waiting on the join barrier), and starts the event pump and
// the reconnection supervisor. The initial connect uses the same bounded
// fixed-delay retry policy as reconnects.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	endpoint, err := ResolveEndpoint(cfg.ServerURL, cfg.Mode, cfg.Address, cfg.Identity)
	if err != nil {
		return nil, err
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		base:     commandBase(cfg.ServerURL, cfg.Mode, cfg.Address),
		streamHC: &http.Client{},
		log: logging.With().
			Str("sessionId", cfg.Address.SessionID).
			Str("agentId", cfg.Identity.AgentID).
			Logger(),
		mentions: make(chan *wire.Message, cfg.MentionBuffer),
		ctx:      clientCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))

	st, err := c.connectWithRetry(ctx)
	if err != nil {
		cancel()
		c.state.Store(int32(StateClosed))
		return nil, err
	}

	c.mu.Lock()
	c.stream = st
	c.mu.Unlock()
	c.state.Store(int32(StateJoined))
	c.log.Info().Msg("session joined")

	go c.pump(st)
	go c.supervise(st)

	return c, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Done is closed when the client reaches the Closed state, either via Close
// or after the supervisor exhausts its retries.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error that closed the client, or nil after a clean
// Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// Close tears the stream down and releases the identity. It is not an error
// to close twice.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	st := c.stream
	c.mu.Unlock()

	c.state.Store(int32(StateClosed))
	c.cancel()
	if st != nil {
		st.close()
	}
	close(c.done)
	c.log.Info().Msg("client closed")
	return nil
}

// isClosed reports whether Close was called.
func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// checkState gates command operations on the connection state. Operations
// fail fast while the supervisor is between streams.
func (c *Client) checkState() error {
	switch c.State() {
	case StateJoined:
		return nil
	case StateDegraded, StateConnecting:
		return fmt.Errorf("%w: connection degraded, reconnect in progress", ErrStreamClosed)
	default:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClientClosed
	}
}

// ListAgents returns a snapshot of the agents currently registered in the
// session. The calling agent's own identity is included while Joined.
func (c *Client) ListAgents(ctx context.Context) ([]wire.Agent, error) {
	if err := c.checkState(); err != nil {
		return nil, err
	}
	var agents []wire.Agent
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &agents); err != nil {
		return nil, fmt.Errorf("listAgents: %w", err)
	}
	return agents, nil
}

// CreateThread creates a new thread containing the calling agent and the
// given participants. Two identical calls create two distinct threads.
func (c *Client) CreateThread(ctx context.Context, participants []string) (*wire.Thread, error) {
	if err := c.checkState(); err != nil {
		return nil, err
	}
	req := wire.CreateThreadRequest{
		Creator:      c.cfg.Identity.AgentID,
		Participants: participants,
	}
	var th wire.Thread
	if err := c.do(ctx, http.MethodPost, "/threads", req, &th); err != nil {
		return nil, fmt.Errorf("createThread: %w", err)
	}
	return &th, nil
}

// AddParticipant adds an agent to a thread. Duplicate adds are no-ops.
func (c *Client) AddParticipant(ctx context.Context, threadID, agentID string) error {
	if err := c.checkState(); err != nil {
		return err
	}
	req := wire.ParticipantRequest{AgentID: agentID}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/participants", req, nil); err != nil {
		return fmt.Errorf("addParticipant %s: %w", threadID, err)
	}
	return nil
}

// RemoveParticipant removes an agent from a thread.
func (c *Client) RemoveParticipant(ctx context.Context, threadID, agentID string) error {
	if err := c.checkState(); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, "/threads/"+threadID+"/participants/"+agentID, nil, nil); err != nil {
		return fmt.Errorf("removeParticipant %s: %w", threadID, err)
	}
	return nil
}

// SendMessage posts a message to a thread, optionally mentioning other
// participants. Messages from one agent to one thread are delivered to all
// participants in send order.
func (c *Client) SendMessage(ctx context.Context, threadID, content string, mentions []string) (*wire.Message, error) {
	if err := c.checkState(); err != nil {
		return nil, err
	}
	req := wire.SendMessageRequest{
		Sender:   c.cfg.Identity.AgentID,
		Content:  content,
		Mentions: mentions,
	}
	var msg wire.Message
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", req, &msg); err != nil {
		return nil, fmt.Errorf("sendMessage %s: %w", threadID, err)
	}
	return &msg, nil
}

// CloseThread closes a thread. Closing is terminal.
func (c *Client) CloseThread(ctx context.Context, threadID string) error {
	if err := c.checkState(); err != nil {
		return err
	}
	req := wire.CloseThreadRequest{AgentID: c.cfg.Identity.AgentID}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/close", req, nil); err != nil {
		return fmt.Errorf("closeThread %s: %w", threadID, err)
	}
	return nil
}

// do performs one command call and decodes either the result or the error
// envelope.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope wire.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("server error: status %d", resp.StatusCode)
		}
		return errorFromCode(envelope.Error.Code, envelope.Error.Message)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
