package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.TypingCoalesce = Duration{250 * time.Millisecond}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeFile(t, "config.toml", `
server_url = "https://chat.example.com"
bot_reply_delay = "250ms"
persist_bot_replies = false

[reconnect]
max_attempts = 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.BotReplyDelay.Duration != 250*time.Millisecond {
		t.Errorf("BotReplyDelay = %v, want 250ms", cfg.BotReplyDelay)
	}
	if cfg.PersistBotReplies {
		t.Error("PersistBotReplies = true, want false")
	}
	if cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Reconnect.MaxAttempts)
	}
	if cfg.KeepaliveInterval.Duration != 5*time.Second {
		t.Errorf("KeepaliveInterval = %v, want default 5s", cfg.KeepaliveInterval)
	}
	if cfg.Reconnect.MaxDelay.Duration != 30*time.Second {
		t.Errorf("MaxDelay = %v, want default 30s", cfg.Reconnect.MaxDelay)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeFile(t, "config.toml", `typing_timeout = "soon"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		server  string
		profile string
		level   string
	}{
		{"empty", nil, DefaultServerURL, "", "info"},
		{"primary", map[string]string{EnvServerURL: "https://a", EnvLegacyServerURL: "https://b"}, "https://a", "", "info"},
		{"legacy fallback", map[string]string{EnvLegacyServerURL: "https://b"}, "https://b", "", "info"},
		{"profile and level", map[string]string{EnvProfile: "work", EnvLogLevel: "debug"}, DefaultServerURL, "work", "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ApplyEnv(envMap(tt.env))
			if cfg.ServerURL != tt.server {
				t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, tt.server)
			}
			if cfg.DefaultProfile != tt.profile {
				t.Errorf("DefaultProfile = %q, want %q", cfg.DefaultProfile, tt.profile)
			}
			if cfg.LogLevel != tt.level {
				t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, tt.level)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "MSGDASH_TEST_DOTENV=from-file\n")
	t.Setenv("MSGDASH_TEST_DOTENV", "")
	os.Unsetenv("MSGDASH_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("MSGDASH_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("got %q, want from-file", got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	bad := []func(*Config){
		func(c *Config) { c.ServerURL = "localhost" },
		func(c *Config) { c.LogLevel = "loud" },
		func(c *Config) { c.KeepaliveInterval = Duration{} },
		func(c *Config) { c.TypingTimeout = Duration{-time.Second} },
		func(c *Config) { c.Reconnect.MaxAttempts = -1 },
	}
	for i, mutate := range bad {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
