// ABOUTME: Configuration loading and parsing for the chat session host.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete host configuration.
type Config struct {
	Endpoint   string `yaml:"endpoint"`
	Credential string `yaml:"credential"`
	Tenant     string `yaml:"tenant"`
	Locale     string `yaml:"locale"`

	PushEnabled bool `yaml:"push_enabled"`
	PollEnabled bool `yaml:"poll_enabled"`

	Metadata map[string]string `yaml:"metadata"`

	Unavailable UnavailableConfig `yaml:"unavailable"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`

	// HTTPTimeout bounds each backend request.
	HTTPTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	HTTPTimeoutRaw string `yaml:"http_timeout"`
}

// UnavailableConfig overrides the degraded-service chat bubble.
type UnavailableConfig struct {
	Message      string `yaml:"message"`
	ContactURL   string `yaml:"contact_url"`
	ContactLabel string `yaml:"contact_label"`
}

// CacheConfig selects the persistence backend for transcripts.
type CacheConfig struct {
	Backend       string `yaml:"backend"` // "memory", "sqlite", "redis"
	Path          string `yaml:"path"`    // sqlite database path
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Credential == "" {
		return fmt.Errorf("credential is required")
	}
	if !c.PushEnabled && !c.PollEnabled {
		return fmt.Errorf("at least one of push_enabled or poll_enabled must be set")
	}

	switch c.Cache.Backend {
	case "", "memory":
		// in-memory needs nothing
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for the sqlite backend")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.HTTPTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.HTTPTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing http_timeout %q: %w", cfg.HTTPTimeoutRaw, err)
		}
		cfg.HTTPTimeout = d
	}
	return nil
}
