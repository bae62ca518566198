// Package config holds the settings shared by the server and the command
// line tools, with TOML file and .env support.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultAddress             = "127.0.0.1:8000"
	defaultCacheDir            = "~/.cache/medcompanion/pdf-cache"
	defaultRunDB               = "~/.local/share/medcompanion/runs.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultDecodeTimeout       = 60 * time.Second
	defaultExtractTimeout      = 2 * time.Minute
	defaultCacheRetention      = 7 * 24 * time.Hour
	defaultCacheMaxSize        = 1 << 30
	defaultRunRetention        = 30 * 24 * time.Hour
	defaultExpiryCheckInterval = time.Hour
)

// Config encapsulates all configuration values for MedCompanion. The TOML
// file uses the snake_case form of each flag name, see applyRaw.
type Config struct {
	Address             string
	CacheDir            string
	RunDB               string
	LogLevel            string
	LogFormat           string
	DecodeTimeout       time.Duration
	ExtractTimeout      time.Duration
	CacheRetention      time.Duration
	CacheMaxSize        int64
	RunRetention        time.Duration
	ExpiryCheckInterval time.Duration
	MetricsPrometheus   bool
	MetricsOTLPEndpoint string
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Address:             defaultAddress,
		CacheDir:            defaultCacheDir,
		RunDB:               defaultRunDB,
		LogLevel:            defaultLogLevel,
		LogFormat:           defaultLogFormat,
		DecodeTimeout:       defaultDecodeTimeout,
		ExtractTimeout:      defaultExtractTimeout,
		CacheRetention:      defaultCacheRetention,
		CacheMaxSize:        defaultCacheMaxSize,
		RunRetention:        defaultRunRetention,
		ExpiryCheckInterval: defaultExpiryCheckInterval,
		MetricsPrometheus:   true,
	}
}

// Vars exposes the defaults as kong interpolation variables, so flag
// definitions can use ${default_cache_dir} and friends.
func Vars() kong.Vars {
	d := Default()
	return kong.Vars{
		"default_address":               d.Address,
		"default_cache_dir":             d.CacheDir,
		"default_run_db":                d.RunDB,
		"default_log_level":             d.LogLevel,
		"default_log_format":            d.LogFormat,
		"default_decode_timeout":        d.DecodeTimeout.String(),
		"default_extract_timeout":       d.ExtractTimeout.String(),
		"default_cache_retention":       d.CacheRetention.String(),
		"default_cache_max_size":        fmt.Sprint(d.CacheMaxSize),
		"default_run_retention":         d.RunRetention.String(),
		"default_expiry_check_interval": d.ExpiryCheckInterval.String(),
	}
}

// DefaultPaths returns the config files consulted when none is given, in
// priority order.
func DefaultPaths() []string {
	return []string{"medcompanion.toml", "~/.config/medcompanion/config.toml"}
}

// decodeRaw parses a TOML document. Durations are written as Go duration
// strings ("90s", "15m").
func decodeRaw(r io.Reader) (map[string]any, error) {
	raw := map[string]any{}
	dec := toml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return raw, nil
}

func applyRaw(raw map[string]any, cfg *Config) error {
	for key, value := range raw {
		var err error
		switch key {
		case "address":
			err = setString(&cfg.Address, value)
		case "cache_dir":
			err = setString(&cfg.CacheDir, value)
		case "run_db":
			err = setString(&cfg.RunDB, value)
		case "log_level":
			err = setString(&cfg.LogLevel, value)
		case "log_format":
			err = setString(&cfg.LogFormat, value)
		case "decode_timeout":
			err = setDuration(&cfg.DecodeTimeout, value)
		case "extract_timeout":
			err = setDuration(&cfg.ExtractTimeout, value)
		case "cache_retention":
			err = setDuration(&cfg.CacheRetention, value)
		case "cache_max_size":
			err = setInt(&cfg.CacheMaxSize, value)
		case "run_retention":
			err = setDuration(&cfg.RunRetention, value)
		case "expiry_check_interval":
			err = setDuration(&cfg.ExpiryCheckInterval, value)
		case "metrics_prometheus":
			b, ok := value.(bool)
			if !ok {
				err = fmt.Errorf("expected boolean, got %T", value)
			}
			cfg.MetricsPrometheus = b
		case "metrics_otlp_endpoint":
			err = setString(&cfg.MetricsOTLPEndpoint, value)
		default:
			err = errors.New("unknown key")
		}
		if err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
	}
	return nil
}

func setString(dst *string, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	*dst = s
	return nil
}

func setInt(dst *int64, value any) error {
	n, ok := value.(int64)
	if !ok {
		return fmt.Errorf("expected integer, got %T", value)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected duration string, got %T", value)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// LoadDotEnv loads environment variables from the given .env files, or from
// ./.env when none are given. Missing files are ignored and variables that
// are already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ and makes the path absolute. The empty
// string is returned unchanged.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
