package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/tOgg1/campusmarket/internal/models"
)

func isolatedLoader(t *testing.T) *Loader {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Chdir(dir)

	loader := NewLoader()
	loader.SetEnvFiles()
	return loader
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Stream.AllowSessionTokenFallback {
		t.Error("session token fallback must be off by default")
	}
	if cfg.Sync.PollInterval != 3*time.Second || cfg.Sync.ReconnectDelay != 5*time.Second {
		t.Errorf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if got := cfg.CachePath(); got != filepath.Join(cfg.Global.DataDir, "cache.db") {
		t.Errorf("CachePath() = %v", got)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "ftp://nope"
	cfg.Sync.PollInterval = time.Millisecond
	cfg.Logging.Level = "chatty"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}

	var validation *models.ValidationErrors
	if !errors.As(err, &validation) {
		t.Fatalf("Validate() error type = %T", err)
	}
	if len(validation.Errors) != 3 {
		t.Errorf("got %d problems, want 3: %v", len(validation.Errors), err)
	}
	for _, field := range []string{"api.base_url", "sync.poll_interval", "logging.level"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestLoadPrecedence(t *testing.T) {
	loader := isolatedLoader(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, `
api:
  base_url: https://file.example.edu
  timeout: 20s
sync:
  poll_interval: 7s
stream:
  allow_session_token_fallback: true
logging:
  level: debug
`)
	loader.SetConfigFile(configPath)

	t.Setenv("CAMPUSMARKET_SYNC_POLL_INTERVAL", "4s")
	t.Setenv("CAMPUSMARKET_TOKEN", "env-token")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	if err := flags.Parse([]string{"--log-level", "warn"}); err != nil {
		t.Fatal(err)
	}
	if err := loader.BindFlag("logging.level", flags.Lookup("log-level")); err != nil {
		t.Fatal(err)
	}

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "https://file.example.edu" {
		t.Errorf("BaseURL = %v, want file value", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 20*time.Second {
		t.Errorf("Timeout = %v, want 20s", cfg.API.Timeout)
	}
	if cfg.Sync.PollInterval != 4*time.Second {
		t.Errorf("PollInterval = %v, env should beat file", cfg.Sync.PollInterval)
	}
	if cfg.Sync.IndexInterval != 3*time.Second {
		t.Errorf("IndexInterval = %v, want default", cfg.Sync.IndexInterval)
	}
	if cfg.Auth.SessionToken != "env-token" {
		t.Errorf("SessionToken = %q, want alias value", cfg.Auth.SessionToken)
	}
	if !cfg.Stream.AllowSessionTokenFallback {
		t.Error("AllowSessionTokenFallback should come from the file")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %v, flag should beat file", cfg.Logging.Level)
	}
	if loader.ConfigFileUsed() != configPath {
		t.Errorf("ConfigFileUsed() = %v", loader.ConfigFileUsed())
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	loader := isolatedLoader(t)
	envPath := filepath.Join(t.TempDir(), "test.env")
	writeFile(t, envPath, "CAMPUSMARKET_AUTH_USER_ID=u-from-dotenv\n")
	loader.SetEnvFiles(envPath, filepath.Join(t.TempDir(), "missing.env"))
	t.Cleanup(func() { _ = os.Unsetenv("CAMPUSMARKET_AUTH_USER_ID") })

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.UserID != "u-from-dotenv" {
		t.Errorf("UserID = %q", cfg.Auth.UserID)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	loader := isolatedLoader(t)
	loader.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := loader.Load(); err == nil {
		t.Fatal("Load() should fail when an explicit config file is missing")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	loader := isolatedLoader(t)
	t.Setenv("CAMPUSMARKET_API_BURST", "0")

	_, err := loader.Load()
	if err == nil || !strings.Contains(err.Error(), "api.burst") {
		t.Fatalf("Load() error = %v, want api.burst failure", err)
	}
}

func TestExpandTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := map[string]string{
		"":            "",
		"~":           home,
		"~/cache.db":  filepath.Join(home, "cache.db"),
		"/abs/path":   "/abs/path",
		"relative/db": "relative/db",
	}
	for in, want := range tests {
		if got := expandTilde(in); got != want {
			t.Errorf("expandTilde(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactedHidesToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.SessionToken = "secret"

	redacted := cfg.Redacted()
	if redacted.Auth.SessionToken == "secret" {
		t.Error("Redacted() leaked the session token")
	}
	if cfg.Auth.SessionToken != "secret" {
		t.Error("Redacted() modified the original")
	}
}
