// Package chat defines the wire-level message, attachment and feedback types
// shared by the transport, polling and session layers.
package chat
