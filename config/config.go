// Package config holds application configuration: struct-tag defaults,
// optional yaml overrides, logger construction.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	BusAddress     string        `yaml:"bus_address"`
	Adapter        string        `yaml:"adapter"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	ReadTimeout    time.Duration `yaml:"read_timeout" default:"10s"`
	ScanDuration   time.Duration `yaml:"scan_duration" default:"10s"`
	QueueCapacity  int           `yaml:"queue_capacity" default:"128"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the yaml file at path over the defaults. Absent fields keep
// their default values; present fields win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse applies yaml overrides from data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// rawConfig carries durations as strings so absent fields are
// distinguishable from explicit zeros.
type rawConfig struct {
	LogLevel       string `yaml:"log_level"`
	BusAddress     string `yaml:"bus_address"`
	Adapter        string `yaml:"adapter"`
	ConnectTimeout string `yaml:"connect_timeout"`
	ReadTimeout    string `yaml:"read_timeout"`
	ScanDuration   string `yaml:"scan_duration"`
	QueueCapacity  *int   `yaml:"queue_capacity"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var r rawConfig
	if err := node.Decode(&r); err != nil {
		return err
	}
	if r.LogLevel != "" {
		c.LogLevel = r.LogLevel
	}
	if r.BusAddress != "" {
		c.BusAddress = r.BusAddress
	}
	if r.Adapter != "" {
		c.Adapter = r.Adapter
	}
	if r.QueueCapacity != nil {
		c.QueueCapacity = *r.QueueCapacity
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{r.ConnectTimeout, &c.ConnectTimeout},
		{r.ReadTimeout, &c.ReadTimeout},
		{r.ScanDuration, &c.ScanDuration},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("bad duration %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
