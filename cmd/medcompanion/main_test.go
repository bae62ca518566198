package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pnavin9/MedCompanion/config"
	"github.com/stretchr/testify/require"
)

func parseCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli,
		config.Vars(),
		kong.Configuration(config.KongLoader),
		kong.BindTo(context.Background(), (*context.Context)(nil)),
	)
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, kctx
}

func TestSettingsFromFlagsAndConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medcompanion.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
extract_timeout = "45s"
log_format = "json"
`), 0644))

	cli, kctx := parseCLI(t, "--config", path, "--cache-dir", filepath.Join(dir, "cache"), "runs", "--limit", "5")
	require.Equal(t, "runs", kctx.Command())
	require.Equal(t, 5, cli.Runs.Limit)

	cfg, err := cli.Globals.settings()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)
	require.Equal(t, 45*time.Second, cfg.ExtractTimeout)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, config.Default().DecodeTimeout, cfg.DecodeTimeout)
	require.True(t, cfg.MetricsPrometheus)
}

func TestSettingsNegatableMetrics(t *testing.T) {
	cli, _ := parseCLI(t, "--no-metrics-prometheus", "serve", "--address", "127.0.0.1:9000")
	require.Equal(t, "127.0.0.1:9000", cli.Serve.Address)

	cfg, err := cli.Globals.settings()
	require.NoError(t, err)
	require.False(t, cfg.MetricsPrometheus)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	logger, err := newLogger(&buf, &cfg)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept", "path", "/tmp/x")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), `"path":"/tmp/x"`)
	require.False(t, isTerminal(&buf))
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Path", "Pages"}, [][]string{{"/docs/a.pdf", "3"}, {"/docs/b.pdf"}}, []columnAlignment{alignLeft, alignRight})
	require.Contains(t, out, "Path")
	require.Contains(t, out, "/docs/a.pdf")
	require.Contains(t, out, "/docs/b.pdf")
	require.Empty(t, renderTable(nil, nil, nil))
}
