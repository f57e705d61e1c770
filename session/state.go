package session

import "fmt"

// State is the connection lifecycle state of a session.
//
// Transitions move forward only: Idle → Handshaking → Negotiating →
// Streaming → Draining → Closed, with an error edge from any non-terminal
// state straight to Closed.
type State uint32

const (
	// StateIdle is the initial state before Connect.
	StateIdle State = iota

	// StateHandshaking means the hello exchange is in flight.
	StateHandshaking

	// StateNegotiating means capabilities are being intersected and
	// settings confirmed.
	StateNegotiating

	// StateStreaming means all three data flows are live.
	StateStreaming

	// StateDraining means a graceful disconnect is flushing outstanding
	// sends.
	StateDraining

	// StateClosed is terminal.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHandshaking:
		return "Handshaking"
	case StateNegotiating:
		return "Negotiating"
	case StateStreaming:
		return "Streaming"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(s))
	}
}
