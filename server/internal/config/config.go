// Package config loads the auth server configuration from the environment
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/database"
)

// DefaultMaxBodySize is used when MAX_BODY_SIZE is unset or invalid
const DefaultMaxBodySize int64 = 10 * 1024 * 1024

// Config holds runtime configuration for the server
type Config struct {
	Environment string `envconfig:"ENVIRONMENT"`
	GoEnv       string `envconfig:"GO_ENV"`
	Port        string `envconfig:"SERVER_PORT" default:"8080"`

	JWTSecret       string        `envconfig:"JWT_SECRET"`
	JWTIssuer       string        `envconfig:"JWT_ISSUER" default:"sen-alerte"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`
	GraceWindow     time.Duration `envconfig:"GRACE_WINDOW" default:"0s"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"false"`

	// Seeds the in-memory directory when running without DATABASE_URL in development
	DevAdminEmail    string `envconfig:"DEV_ADMIN_EMAIL"`
	DevAdminPassword string `envconfig:"DEV_ADMIN_PASSWORD"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	PurgeSchedule  string        `envconfig:"PURGE_SCHEDULE" default:"@every 6h"`
	PurgeRetention time.Duration `envconfig:"PURGE_RETENTION" default:"720h"`

	RefreshRateLimit int           `envconfig:"REFRESH_RATE_LIMIT" default:"30"`
	RefreshRateWin   time.Duration `envconfig:"REFRESH_RATE_WINDOW" default:"1m"`
	LoginMaxAttempts int           `envconfig:"LOGIN_MAX_ATTEMPTS" default:"5"`
	LoginWindow      time.Duration `envconfig:"LOGIN_WINDOW" default:"15m"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS"`
	MaxBodySize        string `envconfig:"MAX_BODY_SIZE"`

	TLSEnabled    bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCertFile   string `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile    string `envconfig:"TLS_KEY_FILE"`
	TLSMinVersion string `envconfig:"TLS_MIN_VERSION" default:"1.2"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether ENVIRONMENT or GO_ENV selects development mode
func (c *Config) IsDevelopment() bool {
	if c == nil {
		return false
	}
	for _, v := range []string{c.Environment, c.GoEnv} {
		switch strings.ToLower(v) {
		case "development", "dev", "local":
			return true
		}
	}
	return false
}

// Validate applies the secret, database and TLS policies
func (c *Config) Validate() error {
	isDev := c.IsDevelopment()
	if err := auth.ValidateSecret(c.JWTSecret, isDev); err != nil {
		return fmt.Errorf("JWT secret validation failed: %w", err)
	}
	if c.DatabaseURL != "" {
		if err := database.ValidateDatabaseURL(c.DatabaseURL, isDev); err != nil {
			return err
		}
	}
	switch c.DBDriver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or pgx, got %q", c.DBDriver)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= c.AccessTokenTTL {
		return errors.New("REFRESH_TOKEN_TTL must exceed a positive ACCESS_TOKEN_TTL")
	}
	if c.GraceWindow < 0 {
		return errors.New("GRACE_WINDOW must not be negative")
	}
	if c.GraceWindow > 0 && c.RedisAddr == "" {
		return errors.New("GRACE_WINDOW requires REDIS_ADDR")
	}
	if _, err := ParseTLSMinVersion(c.TLSMinVersion); err != nil {
		return err
	}
	if c.TLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE are required when TLS_ENABLED=true")
	}
	if c.DatabaseURL == "" && !isDev {
		return errors.New("DATABASE_URL is required in production")
	}
	return nil
}

// Addr is the listen address
func (c *Config) Addr() string {
	return ":" + c.Port
}

// BodyLimit is MAX_BODY_SIZE in bytes
func (c *Config) BodyLimit() int64 {
	return ParseMaxBodySize(c.MaxBodySize)
}

// Origins is CORS_ALLOWED_ORIGINS split into a list
func (c *Config) Origins() []string {
	return ParseCORSOrigins(c.CORSAllowedOrigins)
}

// TLS returns the server TLS config, or nil when TLS is disabled
func (c *Config) TLS() *tls.Config {
	if !c.TLSEnabled {
		return nil
	}
	v, err := ParseTLSMinVersion(c.TLSMinVersion)
	if err != nil {
		v = tls.VersionTLS12
	}
	return &tls.Config{MinVersion: v}
}

// SlogLevel maps LOG_LEVEL to a slog level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ParseTLSMinVersion accepts "1.2", "1.3" or empty (1.2)
func ParseTLSMinVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("TLS_MIN_VERSION must be 1.2 or 1.3, got %q", v)
}

// ParseMaxBodySize parses sizes like "1024", "512KB", "10MB" or "1GB".
// Invalid or empty values fall back to DefaultMaxBodySize.
func ParseMaxBodySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return DefaultMaxBodySize
	}
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.mult
			s = strings.TrimSuffix(s, unit.suffix)
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return DefaultMaxBodySize
	}
	return n * multiplier
}

// ParseCORSOrigins splits a comma-separated origin list
func ParseCORSOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
