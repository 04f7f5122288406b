package client

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// supervise watches the active stream for terminal errors and drives the
// Joined -> Degraded -> (Joined | Closed) transitions. Reconnects reuse the
// identical descriptor resolved at Connect time, so the server sees the same
// identity re-register. Events published while Degraded are not replayed.
func (c *Client) supervise(st *stream) {
	for {
		err := <-st.errc

		// Let the pump finish the dead stream's buffered events, then
		// release its connection resources before any replacement exists.
		<-st.drained
		st.close()

		if c.isClosed() {
			return
		}

		c.state.Store(int32(StateDegraded))
		c.log.Warn().Err(err).Msg("stream dropped, reconnecting")

		next, rerr := c.connectWithRetry(c.ctx)
		if rerr != nil {
			c.fail(fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, rerr))
			return
		}

		c.mu.Lock()
		c.stream = next
		c.mu.Unlock()
		c.state.Store(int32(StateJoined))
		c.log.Info().Msg("session rejoined")

		go c.pump(next)
		st = next
	}
}

// connectWithRetry opens the stream with the configured bounded, fixed-delay
// retry policy. MaxRetries counts the attempts after the first, matching the
// at-most-N retry loop this protocol has always used; the delay is constant
// by design, not exponential.
func (c *Client) connectWithRetry(ctx context.Context) (*stream, error) {
	var st *stream
	open := func() error {
		c.state.Store(int32(StateConnecting))
		s, err := openStream(ctx, c.streamHC, c.endpoint, c.cfg.OpenTimeout)
		if err != nil {
			c.log.Warn().Err(err).Msg("stream open failed")
			return err
		}
		st = s
		return nil
	}

	retries := c.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.cfg.RetryDelay),
			uint64(retries),
		),
		ctx,
	)
	if err := backoff.Retry(open, policy); err != nil {
		return nil, err
	}
	return st, nil
}

// fail records the terminal error and moves the client to Closed. No further
// automatic recovery happens after this; pending mention waiters observe the
// error through Done.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.fatalErr = err
	c.mu.Unlock()

	c.state.Store(int32(StateClosed))
	c.cancel()
	close(c.done)
	c.log.Error().Err(err).Msg("connection closed permanently")
}
