// Package config handles application configuration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Backend names accepted by default_backend
const (
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
)

// DefaultRequestTimeout bounds every remote call made by a CLI command
const DefaultRequestTimeout = 30 * time.Second

// Config represents the application configuration
type Config struct {
	DefaultBackend string          `yaml:"default_backend"`
	NoPrompt       bool            `yaml:"no_prompt"`
	OutputFormat   string          `yaml:"output_format"`
	RequestTimeout string          `yaml:"request_timeout"` // e.g. "30s"
	Backends       BackendsConfig  `yaml:"backends"`
	Auth           AuthConfig      `yaml:"auth"`
	Server         ServerConfig    `yaml:"server"`
	Assistant      AssistantConfig `yaml:"assistant"`
	Logging        LoggingConfig   `yaml:"logging"`
}

// BackendsConfig holds configuration for all backends
type BackendsConfig struct {
	Sheets   SheetsConfig   `yaml:"sheets"`
	Postgres PostgresConfig `yaml:"postgres"`
	Local    LocalConfig    `yaml:"local"`
}

// SheetsConfig holds spreadsheet backend configuration
type SheetsConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	SheetName     string `yaml:"sheet_name"`
	SheetID       int64  `yaml:"sheet_id"`
	LoginsSheet   string `yaml:"logins_sheet"`
}

// PostgresConfig holds hosted database configuration
type PostgresConfig struct {
	URL   string `yaml:"url"`
	Table string `yaml:"table"`
}

// LocalConfig holds on-device storage configuration
type LocalConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds identity provider settings
type AuthConfig struct {
	Google    GoogleAuthConfig `yaml:"google"`
	JWTSecret string           `yaml:"jwt_secret"`
}

// GoogleAuthConfig holds the OAuth client used to sign in
type GoogleAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AssistantConfig holds chat assistant settings
type AssistantConfig struct {
	Default string `yaml:"default"` // focus or sarcastic
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset fields
func (c *Config) applyDefaults() {
	if c.DefaultBackend == "" {
		c.DefaultBackend = BackendLocal
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "text"
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = DefaultRequestTimeout.String()
	}
	if c.Backends.Sheets.SheetName == "" {
		c.Backends.Sheets.SheetName = "Sheet1"
	}
	if c.Backends.Sheets.LoginsSheet == "" {
		c.Backends.Sheets.LoginsSheet = "Logins"
	}
	if c.Backends.Postgres.Table == "" {
		c.Backends.Postgres.Table = "todos"
	}
	if c.Backends.Local.Path == "" {
		c.Backends.Local.Path = filepath.Join(GetDataDir(), "local.db")
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Assistant.Default == "" {
		c.Assistant.Default = "focus"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// envOverrides maps environment variables onto config fields
var envOverrides = []struct {
	key   string
	apply func(c *Config, v string)
}{
	{"FOCUSLIST_BACKEND", func(c *Config, v string) { c.DefaultBackend = v }},
	{"FOCUSLIST_SPREADSHEET_ID", func(c *Config, v string) { c.Backends.Sheets.SpreadsheetID = v }},
	{"FOCUSLIST_GOOGLE_CLIENT_ID", func(c *Config, v string) { c.Auth.Google.ClientID = v }},
	{"FOCUSLIST_GOOGLE_CLIENT_SECRET", func(c *Config, v string) { c.Auth.Google.ClientSecret = v }},
	{"FOCUSLIST_DATABASE_URL", func(c *Config, v string) { c.Backends.Postgres.URL = v }},
	{"FOCUSLIST_JWT_SECRET", func(c *Config, v string) { c.Auth.JWTSecret = v }},
	{"FOCUSLIST_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
}

// applyEnv overrides fields from FOCUSLIST_* environment variables
func (c *Config) applyEnv(getenv func(string) string) {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			o.apply(c, v)
		}
	}
}

// loadDotEnv loads .env files next to the config and in the working
// directory. Variables already set in the environment win.
func loadDotEnv(configPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}
	seen := map[string]bool{}
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("failed to load %s: %w", abs, err)
		}
	}
	return nil
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the embedded sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if err := loadDotEnv(configPath); err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// Parse decodes YAML and applies defaults; environment is not consulted
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.applyDefaults()
	cfg.Backends.Local.Path = ExpandPath(cfg.Backends.Local.Path)
	return cfg, nil
}

// writeSample writes the embedded sample config to path
func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	if err := c.ValidateBackend(c.DefaultBackend); err != nil {
		return err
	}

	if c.RequestTimeout != "" {
		d, err := time.ParseDuration(c.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid duration for request_timeout: %q", c.RequestTimeout)
		}
		if d <= 0 {
			return fmt.Errorf("request_timeout must be positive, got %q", c.RequestTimeout)
		}
	}

	switch c.Assistant.Default {
	case "focus", "sarcastic":
	default:
		return fmt.Errorf("unknown assistant.default: %q (must be 'focus' or 'sarcastic')", c.Assistant.Default)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging.level: %q", c.Logging.Level)
	}

	return nil
}

// ValidateBackend checks that name is known and has its required settings
func (c *Config) ValidateBackend(name string) error {
	switch name {
	case BackendSheets:
		if c.Backends.Sheets.SpreadsheetID == "" {
			return errors.New("backends.sheets.spreadsheet_id is required for the sheets backend")
		}
		if c.Auth.Google.ClientID == "" {
			return errors.New("auth.google.client_id is required for the sheets backend")
		}
	case BackendPostgres:
		if c.Backends.Postgres.URL == "" {
			return errors.New("backends.postgres.url is required for the postgres backend")
		}
		// the token's email claim becomes the row owner, so it must be verified
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required for the postgres backend")
		}
	case BackendLocal:
	default:
		return fmt.Errorf("unknown default_backend: %q (must be sheets, postgres or local)", name)
	}
	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(noPrompt bool, outputFormat, backend string) {
	if noPrompt {
		c.NoPrompt = true
	}
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
	if backend != "" {
		c.DefaultBackend = backend
	}
}

// GetRequestTimeout returns request_timeout as a duration, defaulting to 30s
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return DefaultRequestTimeout
	}
	return d
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "focuslist")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "focuslist")
	}
	return filepath.Join(home, fallbackPath, "focuslist")
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
