// Package config loads the global ~/.msgdash/config.toml and the
// environment overrides that apply on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Environment variables read by ApplyEnv.
const (
	EnvServerURL       = "MSGDASH_SERVER_URL"
	EnvLegacyServerURL = "VITE_APP_API_BASE_URL"
	EnvProfile         = "MSGDASH_PROFILE"
	EnvLogLevel        = "MSGDASH_LOG_LEVEL"
)

// DefaultServerURL is used when neither the file nor the environment names a
// server.
const DefaultServerURL = "http://localhost:5000"

// Duration is a time.Duration written as a string such as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Reconnect is the websocket redial policy.
type Reconnect struct {
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	MaxAttempts int      `toml:"max_attempts"`
}

// Config represents ~/.msgdash/config.toml.
type Config struct {
	DefaultProfile    string    `toml:"default_profile"`
	ServerURL         string    `toml:"server_url"`
	LogLevel          string    `toml:"log_level"`
	KeepaliveInterval Duration  `toml:"keepalive_interval"`
	TypingTimeout     Duration  `toml:"typing_timeout"`
	TypingCoalesce    Duration  `toml:"typing_coalesce"`
	BotReplyDelay     Duration  `toml:"bot_reply_delay"`
	PersistBotReplies bool      `toml:"persist_bot_replies"`
	MetricsAddr       string    `toml:"metrics_addr"`
	Reconnect         Reconnect `toml:"reconnect"`
}

// Default returns the configuration used for absent keys.
func Default() *Config {
	return &Config{
		ServerURL:         DefaultServerURL,
		LogLevel:          "info",
		KeepaliveInterval: Duration{5 * time.Second},
		TypingTimeout:     Duration{time.Second},
		BotReplyDelay:     Duration{time.Second},
		PersistBotReplies: true,
		Reconnect: Reconnect{
			BaseDelay:   Duration{time.Second},
			MaxDelay:    Duration{30 * time.Second},
			MaxAttempts: 10,
		},
	}
}

// Load reads config from path on top of the defaults. A missing file is an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv exports the variables in a .env file without overriding ones
// already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvServerURL); ok && v != "" {
		c.ServerURL = v
	} else if v, ok := lookup(EnvLegacyServerURL); ok && v != "" {
		c.ServerURL = v
	}
	if v, ok := lookup(EnvProfile); ok && v != "" {
		c.DefaultProfile = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("server_url %q is not an absolute url", c.ServerURL)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.KeepaliveInterval.Duration <= 0 {
		return errors.New("keepalive_interval must be positive")
	}
	if c.TypingTimeout.Duration <= 0 {
		return errors.New("typing_timeout must be positive")
	}
	if c.TypingCoalesce.Duration < 0 || c.BotReplyDelay.Duration < 0 {
		return errors.New("typing_coalesce and bot_reply_delay must not be negative")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
