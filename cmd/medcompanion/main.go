// Command medcompanion converts DICOM series to PNG slices, caches PDF text
// and bundles workspace documents, either as an HTTP service or one-shot.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/pnavin9/MedCompanion/config"
)

// Globals are the flags shared by every command. Unset flags are resolved
// from the environment, then the config file, then the defaults.
type Globals struct {
	Config kong.ConfigFlag `short:"c" help:"Path to a TOML config file."`

	CacheDir            string        `name:"cache-dir" env:"MEDCOMPANION_CACHE_DIR" default:"${default_cache_dir}" help:"PDF text cache directory."`
	RunDB               string        `name:"run-db" env:"MEDCOMPANION_RUN_DB" default:"${default_run_db}" help:"Run history database."`
	LogLevel            string        `name:"log-level" env:"MEDCOMPANION_LOG_LEVEL" default:"${default_log_level}" enum:"debug,info,warn,error" help:"Log level (${enum})."`
	LogFormat           string        `name:"log-format" env:"MEDCOMPANION_LOG_FORMAT" default:"${default_log_format}" enum:"text,json" help:"Log format (${enum})."`
	DecodeTimeout       time.Duration `name:"decode-timeout" env:"MEDCOMPANION_DECODE_TIMEOUT" default:"${default_decode_timeout}" help:"Timeout for decoding one DICOM file."`
	ExtractTimeout      time.Duration `name:"extract-timeout" env:"MEDCOMPANION_EXTRACT_TIMEOUT" default:"${default_extract_timeout}" help:"Timeout for extracting text from one PDF."`
	CacheRetention      time.Duration `name:"cache-retention" env:"MEDCOMPANION_CACHE_RETENTION" default:"${default_cache_retention}" help:"Remove cached PDF text older than this (0 disables)."`
	CacheMaxSize        int64         `name:"cache-max-size" env:"MEDCOMPANION_CACHE_MAX_SIZE" default:"${default_cache_max_size}" help:"Maximum cached text size in bytes (0 disables)."`
	RunRetention        time.Duration `name:"run-retention" env:"MEDCOMPANION_RUN_RETENTION" default:"${default_run_retention}" help:"Remove run history older than this (0 disables)."`
	ExpiryCheckInterval time.Duration `name:"expiry-check-interval" env:"MEDCOMPANION_EXPIRY_CHECK_INTERVAL" default:"${default_expiry_check_interval}" help:"How often to check for expired content."`
	MetricsPrometheus   bool          `name:"metrics-prometheus" env:"MEDCOMPANION_METRICS_PROMETHEUS" default:"true" negatable:"" help:"Serve Prometheus metrics on /metrics."`
	MetricsOTLPEndpoint string        `name:"metrics-otlp-endpoint" env:"MEDCOMPANION_METRICS_OTLP_ENDPOINT" help:"OTLP gRPC endpoint for metrics export."`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Serve      ServeCmd      `cmd:"" help:"Run the HTTP service."`
	Convert    ConvertCmd    `cmd:"" help:"Convert a folder of DICOM files to PNG slices."`
	Scan       ScanCmd       `cmd:"" help:"Bundle the documents of a workspace folder."`
	Preprocess PreprocessCmd `cmd:"" help:"Extract and cache the text of PDF files."`
	ClearCache ClearCacheCmd `cmd:"" name:"clear-cache" help:"Remove every cached PDF text."`
	Runs       RunsCmd       `cmd:"" help:"Show run history."`
	Stats      StatsCmd      `cmd:"" help:"Show PDF cache statistics."`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// .env values become environment variables before kong reads env tags.
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("medcompanion"),
		kong.Description("Medical imaging and document preprocessing service."),
		kong.UsageOnError(),
		config.Vars(),
		kong.Configuration(config.KongLoader, config.DefaultPaths()...),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run(&cli.Globals)
}

// settings turns the parsed flags into a validated config.Config.
func (g *Globals) settings() (*config.Config, error) {
	cfg := config.Default()
	cfg.CacheDir = g.CacheDir
	cfg.RunDB = g.RunDB
	cfg.LogLevel = g.LogLevel
	cfg.LogFormat = g.LogFormat
	cfg.DecodeTimeout = g.DecodeTimeout
	cfg.ExtractTimeout = g.ExtractTimeout
	cfg.CacheRetention = g.CacheRetention
	cfg.CacheMaxSize = g.CacheMaxSize
	cfg.RunRetention = g.RunRetention
	cfg.ExpiryCheckInterval = g.ExpiryCheckInterval
	cfg.MetricsPrometheus = g.MetricsPrometheus
	cfg.MetricsOTLPEndpoint = g.MetricsOTLPEndpoint

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newLogger writes to w: tint for text, coloured only on a terminal.
func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(w),
		})
	}
	return slog.New(handler), nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
