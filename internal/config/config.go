package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for tokenmeter.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Rollup   RollupConfig   `koanf:"rollup"`
	Pricing  PricingConfig  `koanf:"pricing"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int    `koanf:"port"`
	Host            string `koanf:"host"`
	MaxBodySizeMB   int    `koanf:"max_body_size_mb"`
	Mode            string `koanf:"mode"`             // "debug" or "release"
	ShutdownTimeout string `koanf:"shutdown_timeout"` // parsed as time.Duration in main
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// RollupConfig holds settings for the aggregation scheduler.
type RollupConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Interval        string `koanf:"interval"`         // parsed as time.Duration in main
	CleanupInterval string `koanf:"cleanup_interval"` // parsed as time.Duration in main
	RetentionDays   int    `koanf:"retention_days"`
}

// PricingConfig holds settings for the optional price table.
type PricingConfig struct {
	Path string `koanf:"path"`
}

// Load loads the configuration from the given file path and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"server.shutdown_timeout": "5s",
		"database.dsn":            "postgres://localhost:5432/tokenmeter?sslmode=disable",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"rollup.enabled":          true,
		"rollup.interval":         "5m",
		"rollup.cleanup_interval": "1h",
		"rollup.retention_days":   90,
		"pricing.path":            "./config/prices.yaml",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// TOKENMETER_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("TOKENMETER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TOKENMETER_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
