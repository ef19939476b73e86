// Package poll implements the heartbeat polling fallback for conversations
// whose host disabled push delivery.
package poll
