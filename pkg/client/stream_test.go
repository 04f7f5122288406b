package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavemesh/weave/pkg/wire"
)

// writeFrame writes one SSE frame for an event envelope and flushes it.
func writeFrame(w http.ResponseWriter, envelope string) {
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", envelope)
	w.(http.Flusher).Flush()
}

// beginStream sends the SSE response headers.
func beginStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
}

const liveEnvelope = `{"type":"session.live","data":{"sessionId":"sess","agentCount":1}}`

func TestOpenStream_RejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := openStream(context.Background(), ts.Client(), ts.URL, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Contains(t, err.Error(), "404")
}

func TestOpenStream_RejectsWrongContentType(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	_, err := openStream(context.Background(), ts.Client(), ts.URL, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectFailed)
}

func TestOpenStream_TimesOutWithoutLive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beginStream(w)
		<-r.Context().Done()
	}))
	defer ts.Close()

	_, err := openStream(context.Background(), ts.Client(), ts.URL, 200*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestOpenStream_DropBeforeLive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beginStream(w)
	}))
	defer ts.Close()

	_, err := openStream(context.Background(), ts.Client(), ts.URL, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectFailed)
}

func TestOpenStream_DiscardsPreLiveEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beginStream(w)
		// Lifecycle notices arriving before the barrier are not surfaced.
		writeFrame(w, `{"type":"agent.joined","data":{"agent":{"agentId":"other"}}}`)
		writeFrame(w, liveEnvelope)
		writeFrame(w, `{"type":"thread.created","data":{"thread":{"threadId":"thr_1"}}}`)
		<-r.Context().Done()
	}))
	defer ts.Close()

	st, err := openStream(context.Background(), ts.Client(), ts.URL, time.Second)
	require.NoError(t, err)
	defer st.close()

	select {
	case ev := <-st.events:
		assert.Equal(t, wire.ThreadCreated, ev.Type, "first post-live event")
	case <-time.After(time.Second):
		t.Fatal("post-live event never arrived")
	}
}

func TestStream_SkipsHeartbeatsAndMalformedFrames(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beginStream(w)
		writeFrame(w, liveEnvelope)
		fmt.Fprintf(w, ": heartbeat\n\n")
		writeFrame(w, `{not json`)
		writeFrame(w, `{"type":"agent.left","data":{"agent":{"agentId":"other"}}}`)
		<-r.Context().Done()
	}))
	defer ts.Close()

	st, err := openStream(context.Background(), ts.Client(), ts.URL, time.Second)
	require.NoError(t, err)
	defer st.close()

	select {
	case ev := <-st.events:
		assert.Equal(t, wire.AgentLeft, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("event after heartbeat never arrived")
	}
}

func TestStream_TerminalErrorThenClose(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beginStream(w)
		writeFrame(w, liveEnvelope)
		// Handler returns: the server ends the stream.
	}))
	defer ts.Close()

	st, err := openStream(context.Background(), ts.Client(), ts.URL, time.Second)
	require.NoError(t, err)
	defer st.close()

	select {
	case err := <-st.errc:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("terminal error never surfaced")
	}

	// The event channel closes after the error is placed, never before.
	select {
	case _, ok := <-st.events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("event channel never closed")
	}
}
