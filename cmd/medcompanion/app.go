package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pnavin9/MedCompanion/config"
	"github.com/pnavin9/MedCompanion/doccache"
	"github.com/pnavin9/MedCompanion/expiry"
	"github.com/pnavin9/MedCompanion/pdftext"
	"github.com/pnavin9/MedCompanion/runlog"
	"github.com/pnavin9/MedCompanion/workspace"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	cache    *doccache.Cache
	runs     *runlog.Store
	recorder *runlog.Recorder
	scanner  *workspace.Scanner
}

func newApp(g *Globals) (*app, error) {
	cfg, err := g.settings()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(os.Stderr, cfg)
	if err != nil {
		return nil, err
	}

	cache, err := doccache.Open(cfg.CacheDir, pdftext.New(),
		doccache.WithLogger(logger),
		doccache.WithExtractTimeout(cfg.ExtractTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("opening document cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.RunDB), 0755); err != nil {
		return nil, fmt.Errorf("creating run database directory: %w", err)
	}
	runs, err := runlog.Open(cfg.RunDB, runlog.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening run database: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		cache:    cache,
		runs:     runs,
		recorder: runlog.NewRecorder(runs, logger.With("component", "runlog")),
		scanner:  workspace.New(cache, workspace.WithLogger(logger)),
	}, nil
}

func (a *app) expiryManager() *expiry.Manager {
	return expiry.NewManager(a.cache, a.runs, expiry.Config{
		Retention:     a.cfg.CacheRetention,
		MaxSize:       a.cfg.CacheMaxSize,
		RunRetention:  a.cfg.RunRetention,
		CheckInterval: a.cfg.ExpiryCheckInterval,
		Logger:        a.logger,
	})
}

func (a *app) Close() error {
	return a.runs.Close()
}
