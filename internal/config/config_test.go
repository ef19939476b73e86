// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
endpoint: "https://chat.example.com"
credential: "visitor-token"
tenant: "acme"
locale: "en"

push_enabled: true
poll_enabled: true

metadata:
  page: "pricing"
  plan: "enterprise"

unavailable:
  message: "We are offline right now."
  contact_url: "mailto:help@example.com"
  contact_label: "Email us"

cache:
  backend: "sqlite"
  path: "./chat.db"

logging:
  level: "debug"
  format: "json"

http_timeout: "15s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Endpoint != "https://chat.example.com" {
		t.Errorf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.Credential != "visitor-token" {
		t.Errorf("credential = %q", cfg.Credential)
	}
	if cfg.Tenant != "acme" {
		t.Errorf("tenant = %q", cfg.Tenant)
	}
	if !cfg.PushEnabled || !cfg.PollEnabled {
		t.Errorf("delivery flags = push:%v poll:%v", cfg.PushEnabled, cfg.PollEnabled)
	}
	if cfg.Metadata["page"] != "pricing" {
		t.Errorf("metadata[page] = %q", cfg.Metadata["page"])
	}
	if cfg.Unavailable.Message != "We are offline right now." {
		t.Errorf("unavailable.message = %q", cfg.Unavailable.Message)
	}
	if cfg.Cache.Backend != "sqlite" || cfg.Cache.Path != "./chat.db" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.HTTPTimeout != 15*time.Second {
		t.Errorf("http_timeout = %v", cfg.HTTPTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_CREDENTIAL", "secret-from-env")

	configPath := writeConfig(t, `
endpoint: "https://chat.example.com"
credential: "${TEST_CHAT_CREDENTIAL}"
poll_enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Credential != "secret-from-env" {
		t.Errorf("credential = %q, want env value", cfg.Credential)
	}
}

func TestLoad_UnsetEnvVarFailsValidation(t *testing.T) {
	// An unset variable expands to the empty string, and an empty credential
	// fails validation.
	configPath := writeConfig(t, `
endpoint: "https://chat.example.com"
credential: "${DEFINITELY_NOT_SET_FOR_THIS_TEST}"
poll_enabled: true
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "credential") {
		t.Errorf("error = %v, want credential mention", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "endpoint: [unclosed")
	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
endpoint: "https://chat.example.com"
credential: "tok"
poll_enabled: true
http_timeout: "not-a-duration"
`)
	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Endpoint:    "https://chat.example.com",
		Credential:  "tok",
		PollEnabled: true,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint"},
		{"missing credential", func(c *Config) { c.Credential = "" }, "credential"},
		{"no delivery mode", func(c *Config) { c.PollEnabled = false }, "push_enabled or poll_enabled"},
		{"sqlite without path", func(c *Config) { c.Cache = CacheConfig{Backend: "sqlite"} }, "cache.path"},
		{"redis without addr", func(c *Config) { c.Cache = CacheConfig{Backend: "redis"} }, "redis_addr"},
		{"unknown backend", func(c *Config) { c.Cache = CacheConfig{Backend: "etcd"} }, "unknown cache.backend"},
		{"memory backend ok", func(c *Config) { c.Cache = CacheConfig{Backend: "memory"} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
