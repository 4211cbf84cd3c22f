// Package config defines the tally configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "time/tzdata" // zone names resolve without system tzdata

	"gopkg.in/yaml.v3"
)

// Config is the top-level tally configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Vocabulary VocabularyConfig `json:"vocabulary" yaml:"vocabulary"`
	Lifecycle  LifecycleConfig  `json:"lifecycle" yaml:"lifecycle"`
	DataDir    string           `json:"data_dir" yaml:"data_dir"`
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"` // "text" or "json"
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls login and registration.
type AuthConfig struct {
	JWTSecret        string        `json:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL         time.Duration `json:"token_ttl" yaml:"token_ttl"`
	AdminUser        string        `json:"admin_user" yaml:"admin_user"`
	AdminPass        string        `json:"admin_pass" yaml:"admin_pass"` // bcrypt or argon2id hash
	Hash             string        `json:"hash" yaml:"hash"`             // scheme for new passwords
	OpenRegistration bool          `json:"open_registration" yaml:"open_registration"`
}

// StorageConfig selects the database backend.
type StorageConfig struct {
	Driver         string        `json:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN            string        `json:"dsn" yaml:"dsn"`       // file path for sqlite, URL for postgres
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// VocabularyConfig seeds the department and status vocabularies on first
// start and designates the initial and terminal statuses. Unset designations
// default to the first and last entry of Statuses, not of the live list.
type VocabularyConfig struct {
	Departments    []string `json:"departments" yaml:"departments"`
	Statuses       []string `json:"statuses" yaml:"statuses"`
	InitialStatus  string   `json:"initial_status" yaml:"initial_status"`
	TerminalStatus string   `json:"terminal_status" yaml:"terminal_status"`
}

// LifecycleConfig controls materialization and archival.
type LifecycleConfig struct {
	ArchiveAfterDays int           `json:"archive_after_days" yaml:"archive_after_days"`
	Timezone         string        `json:"timezone" yaml:"timezone"` // IANA name; defines "today"
	OnlineWindow     time.Duration `json:"online_window" yaml:"online_window"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			TokenTTL:         24 * time.Hour,
			AdminUser:        "admin",
			Hash:             "bcrypt",
			OpenRegistration: true,
		},
		Storage: StorageConfig{
			Driver:         DriverSQLite,
			ConnectTimeout: 10 * time.Second,
		},
		Vocabulary: VocabularyConfig{
			Departments: []string{"Engineering", "HR", "Sales", "Marketing", "Operations"},
			Statuses:    []string{"To Do", "In Progress", "Review", "Done"},
		},
		Lifecycle: LifecycleConfig{
			ArchiveAfterDays: 30,
			Timezone:         "UTC",
			OnlineWindow:     5 * time.Minute,
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to the defaults when
// it does not.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// ApplyEnv overrides fields from TALLY_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Storage.Driver, "TALLY_DB_DRIVER")
	set(&c.Storage.DSN, "TALLY_DB_DSN")
	set(&c.Server.Addr, "TALLY_ADDR")
	set(&c.Auth.JWTSecret, "TALLY_JWT_SECRET")
	set(&c.LogLevel, "TALLY_LOG_LEVEL")
	set(&c.Lifecycle.Timezone, "TALLY_TIMEZONE")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Lifecycle.ArchiveAfterDays <= 0 {
		return fmt.Errorf("lifecycle.archive_after_days must be positive, got %d", c.Lifecycle.ArchiveAfterDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Auth.Hash {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("unknown auth.hash %q", c.Auth.Hash)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Location resolves the lifecycle time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Lifecycle.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Lifecycle.Timezone)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.timezone: %w", err)
	}
	return loc, nil
}

// SQLitePath returns the database file for the sqlite driver.
func (c *Config) SQLitePath() string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	return strings.TrimRight(c.DataDir, "/") + "/tally.db"
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
