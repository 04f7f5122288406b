// Package testutil provides helpers for integration tests: a real session
// server on a loopback listener and pre-wired agent clients.
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/weavemesh/weave/internal/server"
	"github.com/weavemesh/weave/pkg/client"
)

// TestServer wraps a session server instance for testing.
type TestServer struct {
	Server  *server.Server
	BaseURL string

	ts *httptest.Server
}

// TestServerOption configures TestServer.
type TestServerOption func(*server.Config)

// WithHeartbeat sets the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) TestServerOption {
	return func(cfg *server.Config) {
		cfg.Heartbeat = d
	}
}

// StartTestServer creates and starts a session server on a loopback listener.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := server.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	srv := server.New(cfg)
	ts := httptest.NewServer(srv.Router())

	return &TestServer{
		Server:  srv,
		BaseURL: ts.URL,
		ts:      ts,
	}, nil
}

// Stop shuts the server down and closes every open stream.
func (s *TestServer) Stop() {
	s.Server.Sessions().Close()
	s.ts.Close()
}

// AgentOption tweaks the client config an agent connects with.
type AgentOption func(*client.Config)

// WithWaitForAgents sets the agent's join barrier quorum.
func WithWaitForAgents(n int) AgentOption {
	return func(cfg *client.Config) {
		cfg.Identity.WaitForAgents = n
	}
}

// WithDescription sets the agent's self-description.
func WithDescription(desc string) AgentOption {
	return func(cfg *client.Config) {
		cfg.Identity.Description = desc
	}
}

// ConnectAgent joins an agent to the given session on the test server and
// blocks until the session goes live for it.
func (s *TestServer) ConnectAgent(ctx context.Context, sessionID, agentID string, opts ...AgentOption) (*client.Client, error) {
	cfg := client.Config{
		ServerURL: s.BaseURL,
		Address: client.SessionAddress{
			ApplicationID: "citest",
			PrivacyKey:    "citest-key",
			SessionID:     sessionID,
		},
		Identity: client.Identity{
			AgentID:       agentID,
			Description:   fmt.Sprintf("citest agent %s", agentID),
			WaitForAgents: 1,
		},
		RetryDelay:  50 * time.Millisecond,
		OpenTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return client.Connect(ctx, cfg)
}
