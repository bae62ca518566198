package config

import (
	"fmt"
	"strings"
)

// Normalize expands paths and canonicalises enumerated values.
func (c *Config) Normalize() error {
	var err error
	if c.CacheDir, err = ExpandPath(strings.TrimSpace(c.CacheDir)); err != nil {
		return fmt.Errorf("cache_dir: %w", err)
	}
	if c.RunDB, err = ExpandPath(strings.TrimSpace(c.RunDB)); err != nil {
		return fmt.Errorf("run_db: %w", err)
	}
	c.Address = strings.TrimSpace(c.Address)
	if c.Address == "" {
		c.Address = defaultAddress
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	c.MetricsOTLPEndpoint = strings.TrimSpace(c.MetricsOTLPEndpoint)
	return nil
}
