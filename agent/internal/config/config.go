// Package config loads the agent configuration from ~/.sen-alerte/config.yaml
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvServerURL overrides server.url when set
const EnvServerURL = "SEN_ALERTE_SERVER_URL"

// Storage backends
const (
	BackendKeychain = "keychain"
	BackendFile     = "file"
)

// Defaults
const (
	DefaultServerURL      = "http://localhost:8080"
	DefaultRefreshLead    = 120 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Config holds the agent configuration
type Config struct {
	Server struct {
		URL string `yaml:"url"`
	} `yaml:"server"`

	Session struct {
		// RefreshLead is how long before access expiry the scheduler refreshes
		RefreshLead    time.Duration `yaml:"refresh_lead"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		// RequireExpiry makes snapshots without an expiry invalid
		RequireExpiry bool `yaml:"require_expiry"`
	} `yaml:"session"`

	Storage struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// GetConfigDir returns ~/.sen-alerte
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".sen-alerte")
}

// GetConfigPath returns the config file location
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Default returns a configuration with every field set to its default
func Default() *Config {
	cfg := &Config{}
	cfg.Server.URL = DefaultServerURL
	cfg.Session.RefreshLead = DefaultRefreshLead
	cfg.Session.RequestTimeout = DefaultRequestTimeout
	cfg.Storage.Backend = BackendKeychain
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads the config file over the defaults, applies the environment
// override and validates the result. A missing file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(GetConfigPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv(EnvServerURL); v != "" {
		cfg.Server.URL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config file, creating the directory if needed
func (c *Config) Save() error {
	if err := os.MkdirAll(GetConfigDir(), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(GetConfigPath(), data, 0o600)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server URL cannot be empty")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server URL must be an http(s) URL, got %q", c.Server.URL)
	}
	if c.Session.RefreshLead < 0 {
		return errors.New("session.refresh_lead must not be negative")
	}
	if c.Session.RequestTimeout <= 0 {
		return errors.New("session.request_timeout must be positive")
	}
	switch c.Storage.Backend {
	case BackendKeychain, BackendFile:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendKeychain, BackendFile, c.Storage.Backend)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// StoragePath is the credentials file used by the file backend
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(GetConfigDir(), "credentials.json")
}

// SlogLevel maps logging.level to a slog level
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Set updates one dotted key ("server.url", "session.refresh_lead", ...)
func (c *Config) Set(key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return errors.New("invalid key format. Expected format: section.field (e.g., server.url)")
	}

	switch section {
	case "server":
		switch field {
		case "url":
			c.Server.URL = value
			return nil
		}
	case "session":
		switch field {
		case "refresh_lead", "request_timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if field == "refresh_lead" {
				c.Session.RefreshLead = d
			} else {
				c.Session.RequestTimeout = d
			}
			return nil
		case "require_expiry":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			c.Session.RequireExpiry = b
			return nil
		}
	case "storage":
		switch field {
		case "backend":
			c.Storage.Backend = value
			return nil
		case "path":
			c.Storage.Path = value
			return nil
		}
	case "logging":
		switch field {
		case "level":
			c.Logging.Level = value
			return nil
		}
	default:
		return fmt.Errorf("unknown config section: %s", section)
	}
	return fmt.Errorf("unknown %s field: %s", section, field)
}

// Keys lists the settable keys with a short description, for completion
func Keys() []string {
	return []string{
		"server.url\tAuth server URL",
		"session.refresh_lead\tRefresh this long before access expiry (e.g. 2m)",
		"session.request_timeout\tTimeout for auth server calls (e.g. 10s)",
		"session.require_expiry\tTreat sessions without an expiry as invalid",
		"storage.backend\tkeychain or file",
		"storage.path\tCredentials file for the file backend",
		"logging.level\tdebug, info, warn or error",
	}
}
