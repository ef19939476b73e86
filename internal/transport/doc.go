// Package transport implements push delivery over a websocket and defines
// the Events sink both delivery paths (push and heartbeat polling) report to.
package transport
