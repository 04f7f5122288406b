package client

import (
	"errors"
	"fmt"

	"github.com/weavemesh/weave/pkg/wire"
)

// Error taxonomy. Transport errors (ErrConnectFailed, ErrTimeout,
// ErrStreamClosed) are retried by the reconnection supervisor up to the
// configured bound; everything else surfaces synchronously to the caller
// and is never retried automatically.
var (
	// ErrConfiguration marks a malformed session address or identity. Fatal.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectFailed marks a failed dial or handshake. Transient.
	ErrConnectFailed = errors.New("connect failed")

	// ErrTimeout marks a stream open that did not reach session.live within
	// the configured window. Transient.
	ErrTimeout = errors.New("timeout waiting for session")

	// ErrStreamClosed marks a mid-session stream drop. Transient; also
	// returned by operations attempted while the connection is degraded.
	ErrStreamClosed = errors.New("stream closed")

	// ErrMaxRetriesExceeded is the terminal failure after the reconnection
	// supervisor exhausts its attempts. Fatal.
	ErrMaxRetriesExceeded = errors.New("max reconnect retries exceeded")

	// ErrClientClosed is returned by operations on a client closed by its
	// owner.
	ErrClientClosed = errors.New("client closed")

	// Caller logic errors, mapped from the server's error envelope.
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrThreadNotFound = errors.New("thread not found")
	ErrThreadClosed   = errors.New("thread closed")
	ErrNotParticipant = errors.New("not a participant")
)

// errorFromCode maps a wire error code back to the typed taxonomy, keeping
// the server's message for context.
func errorFromCode(code, message string) error {
	switch code {
	case wire.ErrCodeUnknownAgent:
		return fmt.Errorf("%w: %s", ErrUnknownAgent, message)
	case wire.ErrCodeThreadNotFound:
		return fmt.Errorf("%w: %s", ErrThreadNotFound, message)
	case wire.ErrCodeThreadClosed:
		return fmt.Errorf("%w: %s", ErrThreadClosed, message)
	case wire.ErrCodeNotParticipant:
		return fmt.Errorf("%w: %s", ErrNotParticipant, message)
	default:
		return fmt.Errorf("server error %s: %s", code, message)
	}
}
