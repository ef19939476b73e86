// Package session implements the chat-session state machine that drives a
// live customer-support conversation.
//
// # Lifecycle
//
// A conversation moves through:
//
//	NoConversation -> Connecting -> Active -> {TakenOver, Finalized}
//
// TakenOver and Finalized are independent one-way flags. Takeover only
// suppresses the typing indicator; message flow continues. Finalized stops
// polling permanently. Both are cleared only by starting a new conversation.
//
// # Delivery
//
// With push enabled the controller owns a websocket transport; otherwise it
// falls back to heartbeat polling. Both paths funnel inbound batches through
// the history reconciler, so deduplication, watermark advancement and
// terminal-state detection behave identically regardless of delivery mode.
//
// # Recovery policy
//
// Failed backend calls are classified and each class has one recovery action:
//
//   - token expiry: silent full session reset, no error surfaced
//   - network/server failure: an in-band degraded-service chat bubble
//   - anything else: forwarded to the host's error callback
package session
