// ABOUTME: Key-value cache interface abstracting the persistence backend.
// ABOUTME: The session core treats the cache as best-effort; it is never the source of truth.

package cache

import "context"

// KV is a minimal key-value store. The session layer mirrors conversation
// history into it and remembers the active conversation id across restarts.
//
// Implementations must tolerate concurrent use. Errors are advisory: callers
// swallow them and keep the in-memory state authoritative.
type KV interface {
	// Get returns the value for key. The second return is false when the key
	// does not exist; that is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
