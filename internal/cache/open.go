// ABOUTME: Backend dispatcher: builds a KV from host configuration.
// ABOUTME: Defaults to the in-memory backend when nothing is configured.

package cache

import (
	"fmt"
	"log/slog"
)

// Options selects and parameterizes a KV backend.
type Options struct {
	Backend       string // "memory" (default), "sqlite", "redis"
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open constructs the configured KV backend.
func Open(opts Options, logger *slog.Logger) (KV, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(opts.Path, logger)
	case "redis":
		return NewRedis(opts.RedisAddr, opts.RedisPassword, opts.RedisPrefix, opts.RedisDB), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
