package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/tailwatch/internal/indexing/recovery"
	"github.com/vietddude/tailwatch/internal/indexing/tailer"
	redisclient "github.com/vietddude/tailwatch/internal/infra/redis"
)

// ErrMissingPath is returned when no log file to watch was configured.
var ErrMissingPath = errors.New("watch.path is required")

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Watch    tailer.Config      `yaml:"watch"`
	State    StateConfig        `yaml:"state"`
	Recovery recovery.Config    `yaml:"recovery"`
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Redis    redisclient.Config `yaml:"redis"`
}

// StateConfig holds state file settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port    int  `yaml:"port"`
	Enabled bool `yaml:"enabled"`
	// StaleAfter reports the watcher degraded when no line arrived for this long. 0 = off.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration used when a key is not set.
func Default() *AppConfig {
	return &AppConfig{
		Watch:    tailer.DefaultConfig(""),
		State:    StateConfig{Path: "watcher_state.json"},
		Recovery: recovery.DefaultConfig(),
		Server:   ServerConfig{Port: 8080, Enabled: true},
		Logging:  LoggingConfig{Level: "info"},
		Redis:    redisclient.Config{KeyPrefix: "tailwatch", TTL: 24 * time.Hour},
	}
}

// Validate checks settings that have no usable default.
func (c *AppConfig) Validate() error {
	if c.Watch.Path == "" {
		return ErrMissingPath
	}
	if c.State.Path == "" {
		return errors.New("state.path is required")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Recovery.MaxBackoff > 0 && c.Recovery.BaseBackoff > c.Recovery.MaxBackoff {
		return fmt.Errorf("recovery.base_backoff %s exceeds recovery.max_backoff %s",
			c.Recovery.BaseBackoff, c.Recovery.MaxBackoff)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	return nil
}
