package session

import "errors"

// Sentinel errors for session operations. These enable reliable error
// classification using errors.Is().

var (
	// ErrHandshakeTimeout indicates the host never answered the hello
	// within the bounded retry window.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrNegotiationFailed indicates no viable capability intersection or
	// a protocol version mismatch.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrControlChannelLost indicates reliable delivery broke down.
	ErrControlChannelLost = errors.New("control channel lost")

	// ErrTransport wraps a send/receive primitive failure.
	ErrTransport = errors.New("transport error")

	// ErrAlreadyConnected indicates Connect on a non-idle session.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrNotStreaming indicates a streaming-only operation outside the
	// streaming state.
	ErrNotStreaming = errors.New("session not streaming")
)
