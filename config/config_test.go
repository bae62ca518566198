package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNormalizeDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	require.NoError(t, cfg.Normalize())
	require.NoError(t, cfg.Validate())
	require.Equal(t, filepath.Join(home, ".cache", "medcompanion", "pdf-cache"), cfg.CacheDir)
	require.Equal(t, defaultAddress, cfg.Address)
	require.Equal(t, 60*time.Second, cfg.DecodeTimeout)
	require.Equal(t, 2*time.Minute, cfg.ExtractTimeout)
}

func TestApplyRaw(t *testing.T) {
	dir := t.TempDir()
	raw, err := decodeRaw(strings.NewReader(`
address = ":9000"
cache_dir = "` + filepath.Join(dir, "cache") + `"
log_level = "DEBUG"
log_format = "json"
decode_timeout = "90s"
cache_max_size = 4096
metrics_prometheus = false
`))
	require.NoError(t, err)

	cfg := Default()
	require.NoError(t, applyRaw(raw, &cfg))
	require.NoError(t, cfg.Normalize())
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":9000", cfg.Address)
	require.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, 90*time.Second, cfg.DecodeTimeout)
	require.Equal(t, int64(4096), cfg.CacheMaxSize)
	require.False(t, cfg.MetricsPrometheus)
}

func TestKongLoaderRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", `colour = "red"`, "unknown key"},
		{"bad duration", `decode_timeout = "soon"`, "decode_timeout"},
		{"wrong type", `cache_max_size = "big"`, "expected integer"},
		{"wrong bool", `metrics_prometheus = "yes"`, "expected boolean"},
		{"syntax", `address = `, "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KongLoader(strings.NewReader(tt.content))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"zero timeout", func(c *Config) { c.ExtractTimeout = 0 }, "extract_timeout must be positive"},
		{"negative size", func(c *Config) { c.CacheMaxSize = -1 }, "cache_max_size"},
		{"zero interval", func(c *Config) { c.ExpiryCheckInterval = 0 }, "expiry_check_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.NoError(t, cfg.Normalize())
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MEDCOMPANION_TEST_A=from-file\nMEDCOMPANION_TEST_B=from-file\n"), 0o644))
	t.Setenv("MEDCOMPANION_TEST_B", "from-env")
	t.Setenv("MEDCOMPANION_TEST_A", "")
	require.NoError(t, os.Unsetenv("MEDCOMPANION_TEST_A"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	require.Equal(t, "from-file", os.Getenv("MEDCOMPANION_TEST_A"))
	require.Equal(t, "from-env", os.Getenv("MEDCOMPANION_TEST_B"))
}

type resolverCLI struct {
	CacheDir      string        `default:"${default_cache_dir}"`
	DecodeTimeout time.Duration `default:"${default_decode_timeout}"`
	CacheMaxSize  int64         `default:"${default_cache_max_size}"`
	LogLevel      string        `default:"${default_log_level}"`
}

func TestKongLoader(t *testing.T) {
	path := writeConfig(t, `
cache_dir = "/srv/cache"
decode_timeout = "5s"
cache_max_size = 2048
`)

	var cli resolverCLI
	parser, err := kong.New(&cli, Vars(), kong.Configuration(KongLoader, path))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"--log-level=debug"})
	require.NoError(t, err)
	require.Equal(t, "/srv/cache", cli.CacheDir)
	require.Equal(t, 5*time.Second, cli.DecodeTimeout)
	require.Equal(t, int64(2048), cli.CacheMaxSize)
	require.Equal(t, "debug", cli.LogLevel)
}

func TestKongLoaderFlagsWin(t *testing.T) {
	path := writeConfig(t, `cache_dir = "/srv/cache"`)

	var cli resolverCLI
	parser, err := kong.New(&cli, Vars(), kong.Configuration(KongLoader, path))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"--cache-dir=/tmp/other"})
	require.NoError(t, err)
	require.Equal(t, "/tmp/other", cli.CacheDir)
	require.Equal(t, 60*time.Second, cli.DecodeTimeout)
}

func TestKongLoaderRejectsUnknownKeys(t *testing.T) {
	_, err := KongLoader(strings.NewReader(`cache_dirr = "/x"`))
	require.Error(t, err)
}
