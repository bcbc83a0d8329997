// Package config loads the sbrick CLI configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/SeamusWaldron/sbrick_ble_library"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds application configuration
type Config struct {
	NamePrefix        string        `yaml:"name_prefix" env:"SBRICK_NAME_PREFIX" default:"SBrick"`
	Address           string        `yaml:"address" env:"SBRICK_ADDRESS"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" env:"SBRICK_CONNECT_TIMEOUT" default:"10s"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"SBRICK_KEEPALIVE_INTERVAL" default:"300ms"`
	SensorInterval    time.Duration `yaml:"sensor_interval" env:"SBRICK_SENSOR_INTERVAL" default:"200ms"`
	LogLevel          string        `yaml:"log_level" env:"SBRICK_LOG_LEVEL" default:"warn"`
	DBPath            string        `yaml:"db_path" env:"SBRICK_DB"`
	MetricsAddr       string        `yaml:"metrics_addr" env:"SBRICK_METRICS_ADDR"`
	Dummy             bool          `yaml:"dummy" env:"SBRICK_DUMMY"`
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".sbrick", "config.yaml"), nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load layers the YAML file at path and then SBRICK_* environment variables
// over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("%w: keepalive_interval must be positive", ErrInvalidConfig)
	}
	if c.SensorInterval <= 0 {
		return fmt.Errorf("%w: sensor_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// NewLogger creates a configured logger instance. An unparsable level falls
// back to warn.
func (c *Config) NewLogger() *logrus.Logger {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// DriverOptions converts the connection settings to driver options.
func (c *Config) DriverOptions(logger *logrus.Logger) []sbrick.Option {
	opts := []sbrick.Option{
		sbrick.WithLogger(logger),
		sbrick.WithNamePrefix(c.NamePrefix),
		sbrick.WithConnectTimeout(c.ConnectTimeout),
		sbrick.WithKeepaliveInterval(c.KeepaliveInterval),
		sbrick.WithSensorInterval(c.SensorInterval),
	}
	if c.Address != "" {
		opts = append(opts, sbrick.WithAddress(c.Address))
	}
	return opts
}
