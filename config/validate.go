package config

import (
	"errors"
	"fmt"
	"log/slog"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return errors.New("cache_dir must be set")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.DecodeTimeout <= 0 {
		return errors.New("decode_timeout must be positive")
	}
	if c.ExtractTimeout <= 0 {
		return errors.New("extract_timeout must be positive")
	}
	if c.CacheRetention < 0 {
		return errors.New("cache_retention must not be negative")
	}
	if c.CacheMaxSize < 0 {
		return errors.New("cache_max_size must not be negative")
	}
	if c.RunRetention < 0 {
		return errors.New("run_retention must not be negative")
	}
	if c.ExpiryCheckInterval <= 0 {
		return errors.New("expiry_check_interval must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
}
