package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weavemesh/weave/internal/logging"
	"github.com/weavemesh/weave/pkg/wire"
)

// stream is one open SSE connection to the session server. Its event
// channel is the inbound half of the duplex channel; it closes only after a
// terminal error has been placed on the error channel, never silently.
type stream struct {
	events chan wire.Event
	errc   chan error
	cancel context.CancelFunc
	body   io.ReadCloser

	// drained is closed by the pump once it has consumed every event this
	// stream will ever deliver. The supervisor waits on it before starting
	// the replacement pump so mention order is stable across a reconnect.
	drained chan struct{}
}

// openStream dials the descriptor and blocks until the server signals
// session.live (the waitForAgents barrier) or openTimeout elapses. The
// connection itself is not bound to ctx: ctx only limits the open.
func openStream(ctx context.Context, hc *http.Client, endpoint string, openTimeout time.Duration) (*stream, error) {
	connCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := hc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d: %s", ErrConnectFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrConnectFailed, ct)
	}

	st := &stream{
		events:  make(chan wire.Event, 64),
		errc:    make(chan error, 1),
		cancel:  cancel,
		body:    resp.Body,
		drained: make(chan struct{}),
	}
	go st.readLoop(resp.Body)

	if err := st.awaitLive(ctx, openTimeout); err != nil {
		st.close()
		return nil, err
	}
	return st, nil
}

// awaitLive consumes events until session.live arrives. Events pushed before
// the barrier is satisfied are lifecycle notices only and are discarded; the
// registry snapshot comes from listAgents.
func (st *stream) awaitLive(ctx context.Context, openTimeout time.Duration) error {
	waitCtx := ctx
	if openTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, openTimeout)
		defer cancel()
	}

	for {
		select {
		case ev, ok := <-st.events:
			if !ok {
				err := <-st.errc
				return fmt.Errorf("%w: stream ended before session went live: %v", ErrConnectFailed, err)
			}
			if ev.Type == wire.SessionLive {
				return nil
			}
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w: no session.live within %s", ErrTimeout, openTimeout)
			}
			return waitCtx.Err()
		}
	}
}

// readLoop parses SSE frames into events. It terminates by placing exactly
// one terminal error on errc and closing the event channel: a mid-session
// drop is an error, never an empty sequence.
func (st *stream) readLoop(body io.Reader) {
	defer func() {
		close(st.events)
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		// Blank line terminates a frame.
		if line == "" {
			if data.Len() > 0 {
				var ev wire.Event
				if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
					logging.Warn().Err(err).Msg("skipping malformed stream event")
				} else {
					st.events <- ev
				}
				data.Reset()
			}
			continue
		}

		// Comments are heartbeats.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimSpace(rest))
		}
		// "event:" lines carry no routing information here; the envelope's
		// type field does.
	}

	if err := scanner.Err(); err != nil {
		st.errc <- fmt.Errorf("%w: %v", ErrStreamClosed, err)
	} else {
		st.errc <- fmt.Errorf("%w: server ended the stream", ErrStreamClosed)
	}
}

// close tears the connection down.
func (st *stream) close() {
	st.cancel()
	st.body.Close()
}
