// Package config loads summarycheck settings from YAML and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file the CLI reads when --config is not given.
const DefaultPath = "summarycheck.yaml"

// Config holds all summarycheck settings.
type Config struct {
	Oracle  OracleConfig  `yaml:"oracle"`
	Driver  DriverConfig  `yaml:"driver"`
	Gate    GateConfig    `yaml:"gate"`
	Run     RunConfig     `yaml:"run"`
	Logging LoggingConfig `yaml:"logging"`
}

// OracleConfig locates the formatter service.
type OracleConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

// DriverConfig locates the service that mutates the system under test.
type DriverConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

// GateConfig configures awaited checkpoints.
type GateConfig struct {
	// Timeout is the default bound for an awaited checkpoint.
	Timeout string `yaml:"timeout"`
}

// RunConfig configures scenario execution.
type RunConfig struct {
	// Parallel is the number of scenarios run at once.
	Parallel int `yaml:"parallel"`

	// DB is the run history database. Empty disables history.
	DB string `yaml:"db"`

	// CheckIdempotence enables the oracle consistency check.
	CheckIdempotence bool `yaml:"check_idempotence"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Oracle: OracleConfig{
			URL:     "http://127.0.0.1:7070",
			Timeout: "5s",
		},
		Driver: DriverConfig{
			URL:     "http://127.0.0.1:7071",
			Timeout: "30s",
		},
		Gate: GateConfig{
			Timeout: "10s",
		},
		Run: RunConfig{
			Parallel: 1,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults and then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("SUMMARYCHECK_ORACLE_URL"); url != "" {
		c.Oracle.URL = url
	}
	if url := os.Getenv("SUMMARYCHECK_DRIVER_URL"); url != "" {
		c.Driver.URL = url
	}
	if path := os.Getenv("SUMMARYCHECK_DB"); path != "" {
		c.Run.DB = path
	}
}

// GetOracleTimeout returns the per-request oracle timeout.
func (c *Config) GetOracleTimeout() time.Duration {
	return parseDuration(c.Oracle.Timeout, 5*time.Second)
}

// GetDriverTimeout returns the per-request driver timeout.
func (c *Config) GetDriverTimeout() time.Duration {
	return parseDuration(c.Driver.Timeout, 30*time.Second)
}

// GetGateTimeout returns the default bound for awaited checkpoints.
func (c *Config) GetGateTimeout() time.Duration {
	return parseDuration(c.Gate.Timeout, 10*time.Second)
}

// GetLogLevel returns the configured slog level.
func (c *Config) GetLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelWarn
	}
	return level
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Oracle.URL == "" {
		return fmt.Errorf("oracle.url is required (set it in the config file or SUMMARYCHECK_ORACLE_URL)")
	}
	for name, value := range map[string]string{
		"oracle.timeout": c.Oracle.Timeout,
		"driver.timeout": c.Driver.Timeout,
		"gate.timeout":   c.Gate.Timeout,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %q must be a positive duration", name, value)
		}
	}
	if c.Run.Parallel < 1 {
		return fmt.Errorf("invalid run.parallel: %d (must be at least 1)", c.Run.Parallel)
	}
	if c.Logging.Level != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.ToLower(c.Logging.Level))); err != nil {
			return fmt.Errorf("invalid logging.level: %q (valid: debug, info, warn, error)", c.Logging.Level)
		}
	}
	return nil
}
