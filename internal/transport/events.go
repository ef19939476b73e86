// ABOUTME: Event sink interface shared by the push transport and the heartbeat poller.
// ABOUTME: One method per event; injected at construction instead of mutable handler setters.

package transport

import "github.com/ternlabs/chatsession/internal/chat"

// State is the push connection state. It is recomputed on every
// (re)initialization and never persisted.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Events receives everything the delivery layers produce. The session
// controller implements it and funnels both push and poll through one
// reconciliation path.
//
// Implementations must be safe for calls from the transport's read goroutine.
type Events interface {
	// HandleMessages delivers a batch of inbound messages.
	HandleMessages(msgs []chat.Message)

	// HandleTakeover signals that a human operator took over. May fire more
	// than once; the controller's latch makes the external effect one-shot.
	HandleTakeover()

	// HandleFinalize signals that the conversation was closed.
	HandleFinalize()

	// HandleConnectionState reports push connection transitions.
	HandleConnectionState(state State)
}
