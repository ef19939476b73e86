// Package history owns the per-conversation message log: ordered insertion,
// (message_id, type) deduplication, best-effort cache mirroring, and the
// reconciliation of pushed and polled batches against the high-watermark.
package history
