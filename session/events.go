package session

import (
	"fmt"

	"github.com/vrlink/vrlink/protocol"
)

// EventKind discriminates events surfaced to the embedding application.
type EventKind uint8

const (
	// EventConnected fires once when the session reaches Streaming.
	EventConnected EventKind = iota + 1

	// EventDisconnected fires once when the session reaches Closed,
	// carrying the reason.
	EventDisconnected

	// EventSettingsChanged fires when the host pushes new stream settings
	// mid-session.
	EventSettingsChanged

	// EventHaptics delivers a haptic pulse. Haptics bypass the jitter
	// buffers; like tracking, staleness matters more than smoothness.
	EventHaptics

	// EventRestartRequested means the host is restarting its streamer and
	// the embedding application should expect the session to drop.
	EventRestartRequested
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventSettingsChanged:
		return "SettingsChanged"
	case EventHaptics:
		return "Haptics"
	case EventRestartRequested:
		return "RestartRequested"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// DisconnectReason explains a terminal EventDisconnected.
type DisconnectReason uint8

const (
	ReasonGraceful DisconnectReason = iota + 1
	ReasonHandshakeTimeout
	ReasonNegotiationFailed
	ReasonControlChannelLost
	ReasonHeartbeatTimeout
	ReasonTransportError
	ReasonHostClosed
)

// String returns the human-readable name of the reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonGraceful:
		return "Graceful"
	case ReasonHandshakeTimeout:
		return "HandshakeTimeout"
	case ReasonNegotiationFailed:
		return "NegotiationFailed"
	case ReasonControlChannelLost:
		return "ControlChannelLost"
	case ReasonHeartbeatTimeout:
		return "HeartbeatTimeout"
	case ReasonTransportError:
		return "TransportError"
	case ReasonHostClosed:
		return "HostClosed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// Event is one structured control event delivered to the embedding
// application, by poll or callback.
type Event struct {
	Kind EventKind

	// Settings is set for EventConnected and EventSettingsChanged.
	Settings *protocol.StreamSettings

	// Reason is set for EventDisconnected.
	Reason DisconnectReason

	// Haptics is set for EventHaptics: the raw pulse payload with its
	// sender timestamp.
	Haptics []byte

	// Timestamp is the sender timestamp for timed events, in host
	// monotonic nanoseconds.
	Timestamp uint64
}

// EventFunc consumes events pushed by the session. At most one consumer.
type EventFunc func(Event)
