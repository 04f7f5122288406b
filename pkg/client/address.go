package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ProtocolVersion is carried on every connection descriptor so the server
// can reject incompatible clients.
const ProtocolVersion = "1"

// DefaultMode is the namespace prefix of the session endpoint path.
const DefaultMode = "devmode"

// SessionAddress identifies the shared namespace all participating agents
// must agree on out-of-band. All three components are required and the
// triple is immutable for the lifetime of a session.
type SessionAddress struct {
	ApplicationID string
	PrivacyKey    string
	SessionID     string
}

// Identity describes the connecting agent. It is registered as a side effect
// of opening the stream and never mutated afterwards.
type Identity struct {
	AgentID     string
	Description string
	// WaitForAgents is the join barrier: the stream does not go live until
	// this many agents are simultaneously registered. Must be >= 1.
	WaitForAgents int
}

// ResolveEndpoint builds the fully-qualified stream descriptor from the
// server URL, mode, session address, and agent identity. It is pure and
// deterministic: identical inputs always yield the identical descriptor,
// which is what lets the reconnection supervisor reuse it verbatim.
func ResolveEndpoint(serverURL, mode string, addr SessionAddress, id Identity) (string, error) {
	if serverURL == "" {
		return "", fmt.Errorf("%w: server URL is empty", ErrConfiguration)
	}
	if mode == "" {
		mode = DefaultMode
	}
	if addr.ApplicationID == "" || addr.PrivacyKey == "" || addr.SessionID == "" {
		return "", fmt.Errorf("%w: session address requires applicationId, privacyKey, and sessionId", ErrConfiguration)
	}
	if id.AgentID == "" {
		return "", fmt.Errorf("%w: agentId is empty", ErrConfiguration)
	}
	if id.WaitForAgents < 1 {
		return "", fmt.Errorf("%w: waitForAgents must be >= 1, got %d", ErrConfiguration, id.WaitForAgents)
	}

	base := strings.TrimRight(serverURL, "/")
	path := strings.Join([]string{
		base,
		url.PathEscape(mode),
		url.PathEscape(addr.ApplicationID),
		url.PathEscape(addr.PrivacyKey),
		url.PathEscape(addr.SessionID),
		"sse",
	}, "/")

	// url.Values.Encode sorts keys, so the descriptor is deterministic.
	q := url.Values{}
	q.Set("agentId", id.AgentID)
	q.Set("agentDescription", id.Description)
	q.Set("waitForAgents", strconv.Itoa(id.WaitForAgents))
	q.Set("protocolVersion", ProtocolVersion)

	return path + "?" + q.Encode(), nil
}

// commandBase builds the URL prefix shared by all command endpoints.
func commandBase(serverURL, mode string, addr SessionAddress) string {
	return strings.Join([]string{
		strings.TrimRight(serverURL, "/"),
		url.PathEscape(mode),
		url.PathEscape(addr.ApplicationID),
		url.PathEscape(addr.PrivacyKey),
		url.PathEscape(addr.SessionID),
	}, "/")
}
