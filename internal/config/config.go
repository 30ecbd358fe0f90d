// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Handles YAML parsing, environment variable expansion, defaults, and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to fields the config file leaves unset.
const (
	DefaultDriver         = "sqlite"
	DefaultModel          = "echo-1"
	DefaultMaxTitleLength = 50
	DefaultRecentLimit    = 200
	DefaultDeltaBuffer    = 32
	DefaultSaveTimeout    = 5 * time.Second
	DefaultEchoDelay      = 40 * time.Millisecond
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config represents the complete coven-chat configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Chat       ChatConfig       `yaml:"chat"`
	Completion CompletionConfig `yaml:"completion"`
	Settings   SettingsConfig   `yaml:"settings"`
}

// DatabaseConfig selects the conversation store backend.
type DatabaseConfig struct {
	// Driver is one of "sqlite" (pure Go), "sqlite3" (cgo) or "bolt".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChatConfig tunes the session controller and repository.
type ChatConfig struct {
	DefaultModel        string `yaml:"default_model"`
	DefaultInstructions string `yaml:"default_instructions"`
	MaxTitleLength      int    `yaml:"max_title_length"`
	RecentLimit         int    `yaml:"recent_limit"`
	DeltaBuffer         int    `yaml:"delta_buffer"`

	SaveTimeout    time.Duration `yaml:"-"`
	SaveTimeoutRaw string        `yaml:"save_timeout"`
}

// CompletionConfig configures the built-in echo completion backend.
type CompletionConfig struct {
	EchoDelay    time.Duration `yaml:"-"`
	EchoDelayRaw string        `yaml:"echo_delay"`
}

// SettingsConfig points at the user settings file (TOML).
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// Default returns a Config with every default applied. dataDir is where the
// database and settings file live.
func Default(dataDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(dataDir)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Unset fields take their defaults, with relative data files placed under dataDir.
func Load(path, dataDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults(dataDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default(dataDir).
func LoadOrDefault(path, dataDir string) (*Config, error) {
	cfg, err := Load(path, dataDir)
	if errors.Is(err, os.ErrNotExist) {
		return Default(dataDir), nil
	}
	return cfg, err
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults(dataDir string) {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.Path == "" {
		name := "chat.db"
		if c.Database.Driver == "bolt" {
			name = "chat.bolt"
		}
		c.Database.Path = filepath.Join(dataDir, name)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = DefaultModel
	}
	if c.Chat.MaxTitleLength == 0 {
		c.Chat.MaxTitleLength = DefaultMaxTitleLength
	}
	if c.Chat.RecentLimit == 0 {
		c.Chat.RecentLimit = DefaultRecentLimit
	}
	if c.Chat.DeltaBuffer == 0 {
		c.Chat.DeltaBuffer = DefaultDeltaBuffer
	}
	if c.Chat.SaveTimeoutRaw == "" && c.Chat.SaveTimeout == 0 {
		c.Chat.SaveTimeout = DefaultSaveTimeout
	}

	if c.Completion.EchoDelayRaw == "" && c.Completion.EchoDelay == 0 {
		c.Completion.EchoDelay = DefaultEchoDelay
	}

	if c.Settings.Path == "" {
		c.Settings.Path = filepath.Join(dataDir, "settings.toml")
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "bolt":
	default:
		return fmt.Errorf("database.driver must be one of sqlite, sqlite3, bolt (got %q)", c.Database.Driver)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	if c.Chat.MaxTitleLength < 1 {
		return fmt.Errorf("chat.max_title_length must be positive")
	}
	if c.Chat.RecentLimit < 1 {
		return fmt.Errorf("chat.recent_limit must be positive")
	}
	if c.Chat.DeltaBuffer < 1 {
		return fmt.Errorf("chat.delta_buffer must be positive")
	}
	if c.Chat.SaveTimeout <= 0 {
		return fmt.Errorf("chat.save_timeout must be positive")
	}
	if c.Completion.EchoDelay < 0 {
		return fmt.Errorf("completion.echo_delay must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Chat.SaveTimeoutRaw != "" {
		cfg.Chat.SaveTimeout, err = time.ParseDuration(cfg.Chat.SaveTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing save_timeout %q: %w", cfg.Chat.SaveTimeoutRaw, err)
		}
	}

	if cfg.Completion.EchoDelayRaw != "" {
		cfg.Completion.EchoDelay, err = time.ParseDuration(cfg.Completion.EchoDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing echo_delay %q: %w", cfg.Completion.EchoDelayRaw, err)
		}
	}

	return nil
}
