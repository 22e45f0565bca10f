package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete trackfile configuration
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Baseline BaselineConfig `yaml:"baseline"`
	Sync     SyncConfig     `yaml:"sync"`
	Watch    WatchConfig    `yaml:"watch"`
}

// RemoteConfig configures the tracker endpoint
type RemoteConfig struct {
	BaseURL   string `yaml:"base_url"`
	TokenFile string `yaml:"token_file"`
	// Token is the raw bearer token; prefer token_file.
	Token      string `yaml:"token"`
	MaxRetries int    `yaml:"max_retries"`
}

// BaselineConfig configures the snapshot store. The DSN selects the backend:
// a bare path or git: prefix for the git store, memory: for the in-memory
// store, postgres:// for the database store.
type BaselineConfig struct {
	DSN string `yaml:"dsn"`
}

// SyncConfig configures session behavior
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Jitter   time.Duration `yaml:"jitter"`
	Pull     bool          `yaml:"pull"`
}

// WatchConfig configures the daemon's change triggers
type WatchConfig struct {
	Document bool          `yaml:"document"`
	Events   bool          `yaml:"events"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Remote.BaseURL = os.ExpandEnv(c.Remote.BaseURL)
	c.Remote.TokenFile = os.ExpandEnv(c.Remote.TokenFile)
	c.Baseline.DSN = os.ExpandEnv(c.Baseline.DSN)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = "http://127.0.0.1:8080"
	}
	if c.Remote.MaxRetries == 0 {
		c.Remote.MaxRetries = 3
	}
	if c.Baseline.DSN == "" {
		c.Baseline.DSN = defaultBaselineDir()
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.Jitter == 0 {
		c.Sync.Jitter = 30 * time.Second
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Remote.Token != "" && c.Remote.TokenFile != "" {
		return fmt.Errorf("remote: only one of token or token_file may be set")
	}
	if c.Remote.MaxRetries < 0 {
		return fmt.Errorf("remote.max_retries must not be negative")
	}
	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval must be at least 1s: %s", c.Sync.Interval)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > c.Sync.Interval {
		return fmt.Errorf("sync.jitter must be between 0 and sync.interval")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

// BearerToken resolves the configured token, reading token_file when set.
func (c *Config) BearerToken() (string, error) {
	if c.Remote.TokenFile == "" {
		return c.Remote.Token, nil
	}
	data, err := os.ReadFile(c.Remote.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return trimToken(string(data)), nil
}

func trimToken(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func defaultBaselineDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trackfile/baselines"
	}
	return home + "/.trackfile/baselines"
}
