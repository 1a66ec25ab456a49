// Package config loads manager/broker/module configuration via viper,
// following the layered defaults -> file -> environment precedence used
// throughout the retrieval pack's proxy-* services.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the manager, broker, and module
// CLI entrypoints. A single config file/env namespace covers all three;
// each binary reads only the fields it needs.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	ControlAddr string `mapstructure:"control_addr"`
	DataAddr    string `mapstructure:"data_addr"`

	CompressionThreshold int `mapstructure:"compression_threshold"`

	AckTimeout time.Duration `mapstructure:"ack_timeout"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	EnableTracing bool   `mapstructure:"enable_tracing"`
	ServiceName   string `mapstructure:"service_name"`
}

// Load reads configuration from configPath (if non-empty) layered under
// defaults, then environment variables prefixed SIMSUBSTRATE_, and
// validates the result.
func Load(configPath string) (*Config, error) {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("control_addr", "127.0.0.1:5001")
	viper.SetDefault("data_addr", "127.0.0.1:5000")
	viper.SetDefault("compression_threshold", 4096)
	viper.SetDefault("ack_timeout", 5*time.Second)
	viper.SetDefault("metrics_addr", ":9090")
	viper.SetDefault("enable_tracing", false)
	viper.SetDefault("service_name", "simsubstrate")

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SIMSUBSTRATE")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate enforces spec.md §6's PortConflict rule and basic sanity on
// the remaining fields.
func (c *Config) Validate() error {
	if c.ControlAddr == c.DataAddr {
		return fmt.Errorf("control_addr and data_addr must differ (PortConflict): both %s", c.ControlAddr)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("compression_threshold must be >= 0")
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("ack_timeout must be > 0")
	}
	return nil
}
