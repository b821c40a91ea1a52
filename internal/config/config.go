// Package config handles campusmarket configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
)

// Config is the root configuration structure for campusmarket.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// API is the marketplace backend.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Auth identifies the caller.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Sync controls polling and reconnect timing.
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Stream controls the push channel.
	Stream StreamConfig `yaml:"stream" mapstructure:"stream"`

	// Cache is the local SQLite cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where campusmarket stores its data (default: ~/.local/share/campusmarket).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/campusmarket).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// APIConfig contains backend client settings.
type APIConfig struct {
	// BaseURL is the backend origin.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout bounds each REST call. The push channel has no timeout.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`

	// RequestsPerSecond and Burst rate-limit outbound REST calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`

	// BreakerFailures consecutive failures open the circuit for
	// BreakerTimeout.
	BreakerFailures int           `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" mapstructure:"breaker_timeout"`
}

// AuthConfig identifies the caller.
type AuthConfig struct {
	// UserID is the caller. When empty it is read from the session
	// token's claims.
	UserID string `yaml:"user_id" mapstructure:"user_id"`

	// SessionToken is the REST bearer token. Prefer the environment
	// over writing it to a config file.
	SessionToken string `yaml:"session_token" mapstructure:"session_token"`
}

// SyncConfig contains polling and reconnect timing.
type SyncConfig struct {
	// PollInterval is the message poll period for the selected
	// conversation.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// IndexInterval is the conversation list refresh period.
	IndexInterval time.Duration `yaml:"index_interval" mapstructure:"index_interval"`

	// ReconnectDelay is the debounce before reopening a dropped stream.
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`

	// ReadWindow is how long a local read reset beats stale server
	// counts.
	ReadWindow time.Duration `yaml:"read_window" mapstructure:"read_window"`
}

// StreamConfig contains push channel settings.
type StreamConfig struct {
	// AllowSessionTokenFallback sends the session token on the push
	// channel when no scoped token can be fetched. Logged as a warning.
	AllowSessionTokenFallback bool `yaml:"allow_session_token_fallback" mapstructure:"allow_session_token_fallback"`
}

// CacheConfig contains local cache settings.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the SQLite file (default: DataDir/cache.db).
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// Theme is the color theme (default, dark, light).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// ShowTimestamps shows message timestamps in the chat view.
	ShowTimestamps bool `yaml:"show_timestamps" mapstructure:"show_timestamps"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "campusmarket"),
			ConfigDir: filepath.Join(homeDir, ".config", "campusmarket"),
		},
		API: APIConfig{
			BaseURL:           "http://localhost:8787",
			Timeout:           15 * time.Second,
			UserAgent:         "campusmarket/1",
			RequestsPerSecond: 10,
			Burst:             20,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Sync: SyncConfig{
			PollInterval:   3 * time.Second,
			IndexInterval:  3 * time.Second,
			ReconnectDelay: 5 * time.Second,
			ReadWindow:     10 * time.Second,
		},
		Stream: StreamConfig{
			AllowSessionTokenFallback: false,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "", // Will be set to DataDir/cache.db
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		TUI: TUIConfig{
			Theme:          "default",
			ShowTimestamps: true,
		},
	}
}

var (
	validLevels  = []string{"debug", "info", "warn", "warning", "error"}
	validFormats = []string{"console", "json"}
	validThemes  = []string{"default", "dark", "light"}
)

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	validation := &models.ValidationErrors{}

	if strings.TrimSpace(c.API.BaseURL) == "" {
		validation.Add("api.base_url", fmt.Errorf("is required"))
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		validation.Add("api.base_url", fmt.Errorf("must be an http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout < 100*time.Millisecond {
		validation.Add("api.timeout", fmt.Errorf("must be at least 100ms"))
	}
	if c.API.RequestsPerSecond <= 0 {
		validation.Add("api.requests_per_second", fmt.Errorf("must be positive"))
	}
	if c.API.Burst < 1 {
		validation.Add("api.burst", fmt.Errorf("must be at least 1"))
	}
	if c.API.BreakerFailures < 1 {
		validation.Add("api.breaker_failures", fmt.Errorf("must be at least 1"))
	}
	if c.API.BreakerTimeout < time.Second {
		validation.Add("api.breaker_timeout", fmt.Errorf("must be at least 1s"))
	}

	if c.Sync.PollInterval < 100*time.Millisecond {
		validation.Add("sync.poll_interval", fmt.Errorf("must be at least 100ms"))
	}
	if c.Sync.IndexInterval < 100*time.Millisecond {
		validation.Add("sync.index_interval", fmt.Errorf("must be at least 100ms"))
	}
	if c.Sync.ReconnectDelay < 100*time.Millisecond {
		validation.Add("sync.reconnect_delay", fmt.Errorf("must be at least 100ms"))
	}
	if c.Sync.ReadWindow < 0 {
		validation.Add("sync.read_window", fmt.Errorf("must not be negative"))
	}

	if !oneOf(c.Logging.Level, validLevels) {
		validation.Add("logging.level", fmt.Errorf("must be one of %s", strings.Join(validLevels, ", ")))
	}
	if !oneOf(c.Logging.Format, validFormats) {
		validation.Add("logging.format", fmt.Errorf("must be one of %s", strings.Join(validFormats, ", ")))
	}
	if !oneOf(c.TUI.Theme, validThemes) {
		validation.Add("tui.theme", fmt.Errorf("must be one of %s", strings.Join(validThemes, ", ")))
	}

	return validation.Err()
}

func oneOf(value string, allowed []string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// CachePath returns the full cache database path.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Global.DataDir, "cache.db")
}

// ContextPath returns where the CLI context is persisted.
func (c *Config) ContextPath() string {
	return filepath.Join(c.Global.ConfigDir, "context.yaml")
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() logging.Config {
	out := logging.DefaultConfig()
	out.Level = c.Logging.Level
	out.Format = c.Logging.Format
	out.File = c.Logging.File
	out.EnableCaller = c.Logging.EnableCaller
	return out
}

// Redacted returns a copy that is safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Auth.SessionToken != "" {
		out.Auth.SessionToken = "[REDACTED]"
	}
	return &out
}
