// Package config loads the service configuration: defaults, overlaid by an
// optional JSON5 config file, overlaid by CHATFLOW_* environment variables.
// Secrets (Postgres DSN, reply-service secret) come from the environment
// only and are never written to the config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database,omitempty"`
	Reply    ReplyConfig    `json:"reply"`
}

// ServerConfig configures the HTTP event surface.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPS int    `json:"rate_limit_rps,omitempty"` // 0 = disabled
}

// DatabaseConfig selects the storage backend. An empty DSN means standalone
// mode (in-memory stores with an in-process change feed).
type DatabaseConfig struct {
	PostgresDSN string `json:"-"` // from env CHATFLOW_POSTGRES_DSN only
}

// ReplyConfig configures the external reply service call.
type ReplyConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Secret         string `json:"-"` // from env CHATFLOW_REPLY_SECRET only
}

// Timeout returns the reply call timeout as a duration.
func (r ReplyConfig) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8780,
		},
		Reply: ReplyConfig{
			URL:            "https://intelligence.theuncproject.com/reply/",
			TimeoutSeconds: 10,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHATFLOW_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CHATFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CHATFLOW_POSTGRES_DSN"); v != "" {
		c.Database.PostgresDSN = v
	}
	if v := os.Getenv("CHATFLOW_REPLY_URL"); v != "" {
		c.Reply.URL = v
	}
	if v := os.Getenv("CHATFLOW_REPLY_SECRET"); v != "" {
		c.Reply.Secret = v
	}
}
