package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: "https://tracker.example.com"
  token_file: "/run/secrets/tracker-token"
  max_retries: 5

baseline:
  dsn: "git:/var/lib/trackfile/baselines"

sync:
  interval: 1m
  jitter: 5s
  pull: true

watch:
  document: true
  events: true
  debounce: 250ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.BaseURL != "https://tracker.example.com" {
		t.Errorf("expected base_url tracker.example.com, got %s", cfg.Remote.BaseURL)
	}
	if cfg.Remote.MaxRetries != 5 {
		t.Errorf("expected max_retries 5, got %d", cfg.Remote.MaxRetries)
	}
	if cfg.Baseline.DSN != "git:/var/lib/trackfile/baselines" {
		t.Errorf("expected git DSN, got %s", cfg.Baseline.DSN)
	}
	if cfg.Sync.Interval != time.Minute || cfg.Sync.Jitter != 5*time.Second {
		t.Errorf("sync timing = %s / %s", cfg.Sync.Interval, cfg.Sync.Jitter)
	}
	if !cfg.Watch.Events || cfg.Watch.Debounce != 250*time.Millisecond {
		t.Errorf("watch config = %+v", cfg.Watch)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "remote:\n  token: \"abc\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.BaseURL != "http://127.0.0.1:8080" {
		t.Errorf("default base_url = %s", cfg.Remote.BaseURL)
	}
	if cfg.Remote.MaxRetries != 3 {
		t.Errorf("default max_retries = %d", cfg.Remote.MaxRetries)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("default interval = %s", cfg.Sync.Interval)
	}
	if cfg.Baseline.DSN == "" {
		t.Error("default baseline DSN is empty")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TRACKER_HOST", "tracker.internal:9090")
	path := writeConfig(t, "remote:\n  base_url: \"http://${TRACKER_HOST}\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.BaseURL != "http://tracker.internal:9090" {
		t.Errorf("expanded base_url = %s", cfg.Remote.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"token and token_file", func(c *Config) {
			c.Remote.Token = "abc"
			c.Remote.TokenFile = "/run/token"
		}, true},
		{"negative retries", func(c *Config) {
			c.Remote.MaxRetries = -1
		}, true},
		{"sub-second interval", func(c *Config) {
			c.Sync.Interval = 100 * time.Millisecond
		}, true},
		{"jitter above interval", func(c *Config) {
			c.Sync.Interval = time.Minute
			c.Sync.Jitter = 2 * time.Minute
		}, true},
		{"negative debounce", func(c *Config) {
			c.Watch.Debounce = -time.Second
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBearerTokenFromFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("secret-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.Remote.TokenFile = tokenPath

	token, err := cfg.BearerToken()
	if err != nil {
		t.Fatalf("BearerToken failed: %v", err)
	}
	if token != "secret-token" {
		t.Errorf("token = %q", token)
	}
}
