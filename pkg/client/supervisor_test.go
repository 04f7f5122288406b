package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func supervisorConfig(serverURL string, maxRetries int) Config {
	return Config{
		ServerURL:   serverURL,
		Address:     SessionAddress{ApplicationID: "app", PrivacyKey: "pk", SessionID: "sess"},
		Identity:    Identity{AgentID: "agentA", WaitForAgents: 1},
		MaxRetries:  maxRetries,
		RetryDelay:  20 * time.Millisecond,
		OpenTimeout: 2 * time.Second,
	}
}

func TestConnect_RetriesInitialOpen(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, `{"error":{"code":"INTERNAL_ERROR","message":"warming up"}}`, http.StatusServiceUnavailable)
			return
		}
		beginStream(w)
		writeFrame(w, liveEnvelope)
		<-r.Context().Done()
	}))
	defer ts.Close()

	c, err := Connect(context.Background(), supervisorConfig(ts.URL, 3))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, StateJoined, c.State())
	assert.EqualValues(t, 3, attempts.Load())
}

func TestConnect_RetriesDisabled(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := Connect(context.Background(), supervisorConfig(ts.URL, -1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.EqualValues(t, 1, attempts.Load(), "negative MaxRetries means a single attempt")
}

func TestSupervisor_RecoversAfterDrop(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		beginStream(w)
		writeFrame(w, liveEnvelope)
		if n == 1 {
			// First stream drops right after going live.
			return
		}
		<-r.Context().Done()
	}))
	defer ts.Close()

	c, err := Connect(context.Background(), supervisorConfig(ts.URL, 5))
	require.NoError(t, err)
	defer c.Close()

	deadline := time.Now().Add(5 * time.Second)
	for !(attempts.Load() >= 2 && c.State() == StateJoined) {
		if time.Now().After(deadline) {
			t.Fatalf("never rejoined: attempts=%d state=%s", attempts.Load(), c.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-c.Done():
		t.Fatal("client closed although it recovered")
	default:
	}
	assert.NoError(t, c.Err())
}

func TestSupervisor_ExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			beginStream(w)
			writeFrame(w, liveEnvelope)
			// Drop after going live; all reconnect attempts then fail.
			return
		}
		http.Error(w, "gone for good", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := Connect(context.Background(), supervisorConfig(ts.URL, 2))
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client never gave up")
	}

	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), ErrMaxRetriesExceeded)

	// One successful open plus the failed reconnect: first attempt and two
	// retries. Nothing further once closed.
	assert.EqualValues(t, 4, attempts.Load())
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 4, attempts.Load())

	// Operations and waits surface the terminal error.
	_, lerr := c.ListAgents(context.Background())
	assert.ErrorIs(t, lerr, ErrMaxRetriesExceeded)
	_, werr := c.WaitForMentions(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, werr, ErrMaxRetriesExceeded)
}

func TestSupervisor_OperationsFailFastWhileDegraded(t *testing.T) {
	var attempts atomic.Int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			beginStream(w)
			writeFrame(w, liveEnvelope)
			return
		}
		// Hold reconnect attempts open without going live.
		beginStream(w)
		select {
		case <-release:
			writeFrame(w, liveEnvelope)
			<-r.Context().Done()
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	cfg := supervisorConfig(ts.URL, 5)
	cfg.OpenTimeout = 10 * time.Second
	c, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	// Wait until the supervisor is between streams.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if s := c.State(); s == StateDegraded || s == StateConnecting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client never degraded: state=%s", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, oerr := c.ListAgents(context.Background())
	require.Error(t, oerr)
	assert.ErrorIs(t, oerr, ErrStreamClosed)

	// Let the held reconnect go live and verify the client recovers.
	close(release)
	deadline = time.Now().Add(5 * time.Second)
	for c.State() != StateJoined {
		if time.Now().After(deadline) {
			t.Fatalf("client never rejoined: state=%s", c.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSupervisor_MentionOrderStableAcrossReconnect(t *testing.T) {
	mention := func(id, content string) string {
		return fmt.Sprintf(`{"type":"message.sent","data":{"message":{"messageId":%q,"threadId":"thr_1","sender":"planner","content":%q,"mentions":["agentA"],"timestamp":1}}}`, id, content)
	}

	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		beginStream(w)
		writeFrame(w, liveEnvelope)
		if n == 1 {
			// A mention lands just before the stream drops; it must be
			// consumed from the dead stream before the new one delivers.
			writeFrame(w, mention("m1", "before drop"))
			return
		}
		writeFrame(w, mention("m2", "after reconnect"))
		<-r.Context().Done()
	}))
	defer ts.Close()

	c, err := Connect(context.Background(), supervisorConfig(ts.URL, 5))
	require.NoError(t, err)
	defer c.Close()

	first, err := c.WaitForMentions(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "before drop", first.Content)

	second, err := c.WaitForMentions(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "after reconnect", second.Content)
}

func TestSupervisor_CloseStopsReconnects(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		beginStream(w)
		writeFrame(w, liveEnvelope)
		<-r.Context().Done()
	}))
	defer ts.Close()

	c, err := Connect(context.Background(), supervisorConfig(ts.URL, 5))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	time.Sleep(200 * time.Millisecond)

	assert.EqualValues(t, 1, attempts.Load(), "close must not trigger a reconnect")
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, c.Err())
}
