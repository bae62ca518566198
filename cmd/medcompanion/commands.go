package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pnavin9/MedCompanion/expiry"
	"github.com/pnavin9/MedCompanion/lifecycle"
	"github.com/pnavin9/MedCompanion/runlog"
	"github.com/pnavin9/MedCompanion/series"
	"github.com/pnavin9/MedCompanion/series/dcm"
	"github.com/pnavin9/MedCompanion/server"
	"github.com/pnavin9/MedCompanion/telemetry"
	"github.com/schollz/progressbar/v3"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the HTTP service.
type ServeCmd struct {
	Address string `env:"MEDCOMPANION_ADDRESS" default:"${default_address}" help:"Address to listen on."`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "medcompanion",
		OTLPEndpoint:     a.cfg.MetricsOTLPEndpoint,
		EnablePrometheus: a.cfg.MetricsPrometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	registry := lifecycle.New(a.logger)
	converter := series.New(dcm.New(),
		series.WithLogger(a.logger),
		series.WithRegistry(registry),
		series.WithDecodeTimeout(a.cfg.DecodeTimeout),
	)
	mgr := a.expiryManager()

	srv, err := server.New(server.Config{
		Address:   c.Address,
		Converter: converter,
		Documents: a.cache,
		Scanner:   a.scanner,
		Registry:  registry,
		Runs:      a.runs,
		Stats:     mgr,
		Expiry:    mgr,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	a.logger.Info("server started",
		"address", srv.Address(),
		"cache_dir", a.cache.Dir(),
		"run_db", a.cfg.RunDB,
	)

	select {
	case <-ctx.Done():
		a.logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	}
}

// ConvertCmd converts one DICOM folder. The output folder is kept.
type ConvertCmd struct {
	Folder string `arg:"" help:"Folder holding the DICOM files."`
}

func (c *ConvertCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var bar *progressbar.ProgressBar
	converter := series.New(dcm.New(),
		series.WithLogger(a.logger),
		series.WithDecodeTimeout(a.cfg.DecodeTimeout),
		series.WithProgress(func(done, total int) {
			if bar == nil {
				bar = newProgressBar(total, "converting")
			}
			_ = bar.Set(done)
		}),
	)

	started := time.Now()
	batch, err := converter.Convert(ctx, c.Folder)
	if bar != nil {
		_ = bar.Finish()
	}
	a.recorder.Record(ctx, runlog.FromConversion(c.Folder, batch, err, started, time.Since(started)))

	if batch != nil {
		if failures := batch.Failures(); len(failures) > 0 {
			rows := make([][]string, 0, len(failures))
			for _, it := range failures {
				rows = append(rows, []string{strconv.Itoa(it.Index), it.Filename, string(it.Status), it.Reason})
			}
			fmt.Println(renderTable([]string{"#", "File", "Status", "Reason"}, rows, []columnAlignment{alignRight}))
		}
	}
	if err != nil {
		return err
	}

	fmt.Printf("converted %d of %d files into %s\n", batch.Succeeded, batch.Total, batch.OutputFolder)
	return nil
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// ScanCmd prints the document bundle of a workspace.
type ScanCmd struct {
	Workspace string `arg:"" help:"Workspace folder."`
	List      bool   `help:"List the included documents instead of printing the bundle."`
}

func (c *ScanCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	bundle, err := a.scanner.Scan(ctx, c.Workspace)
	if err != nil {
		return err
	}

	if !c.List {
		fmt.Println(bundle.Text())
		return nil
	}
	rows := make([][]string, 0, len(bundle.Documents))
	for _, d := range bundle.Documents {
		rows = append(rows, []string{d.Name, string(d.Kind)})
	}
	fmt.Println(renderTable([]string{"Document", "Kind"}, rows, nil))
	return nil
}

// PreprocessCmd warms the PDF text cache.
type PreprocessCmd struct {
	Paths []string `arg:"" help:"PDF files to extract."`
}

func (c *PreprocessCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	started := time.Now()
	res, err := a.cache.Preprocess(ctx, c.Paths)
	a.recorder.Record(ctx, runlog.FromPreprocess(c.Paths, res, err, started, time.Since(started)))
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(res.Details))
	for _, d := range res.Details {
		pages := ""
		if d.Pages != nil {
			pages = strconv.Itoa(*d.Pages)
		}
		rows = append(rows, []string{d.Path, string(d.Status), pages, d.Error})
	}
	fmt.Println(renderTable([]string{"Path", "Status", "Pages", "Error"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	fmt.Printf("processed %d, failed %d\n", res.Processed, res.Failed)
	return nil
}

// ClearCacheCmd empties the PDF text cache.
type ClearCacheCmd struct{}

func (c *ClearCacheCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.cache.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("PDF cache cleared")
	return nil
}

// RunsCmd lists recent runs, or the items of one run.
type RunsCmd struct {
	ID    string `arg:"" optional:"" help:"Show the items of this run."`
	Limit int    `default:"20" help:"Maximum number of runs to list (0 lists all)."`
}

func (c *RunsCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if c.ID != "" {
		run, err := a.runs.Get(ctx, c.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %s (%s)\n", run.ID, run.Kind, run.Outcome, run.Input)
		if run.Error != "" {
			fmt.Printf("error: %s\n", run.Error)
		}
		rows := make([][]string, 0, len(run.Items))
		for _, it := range run.Items {
			rows = append(rows, []string{it.Name, it.Status, it.Reason})
		}
		fmt.Println(renderTable([]string{"Item", "Status", "Reason"}, rows, nil))
		return nil
	}

	runs, err := a.runs.List(ctx, c.Limit)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Kind),
			string(r.Outcome),
			fmt.Sprintf("%d/%d", r.Succeeded, r.Total),
			r.Duration.Round(time.Millisecond).String(),
			r.Input,
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Started", "Kind", "Outcome", "OK", "Duration", "Input"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
	return nil
}

// StatsCmd reports cache statistics and can run an expiry pass first.
type StatsCmd struct {
	Expire    bool          `help:"Apply the retention and size limits before reporting."`
	OlderThan time.Duration `name:"older-than" help:"Remove cached text older than this before reporting."`
}

func (c *StatsCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	mgr := a.expiryManager()
	var results []*expiry.ExpireResult
	if c.Expire {
		results = append(results, mgr.RunOnce(ctx))
	}
	if c.OlderThan > 0 {
		results = append(results, mgr.ForceExpire(ctx, c.OlderThan))
	}
	for _, r := range results {
		fmt.Printf("expired %d, evicted %d, runs pruned %d, freed %d bytes\n",
			r.AgeExpired, r.SizeEvicted, r.RunsPruned, r.BytesFreed)
		if r.Errors > 0 {
			return errors.New("some cache entries could not be removed")
		}
	}

	stats, err := mgr.GetStats(ctx)
	if err != nil {
		return err
	}
	rows := [][]string{
		{"Entries", strconv.FormatInt(stats.Entries, 10)},
		{"Size", strconv.FormatInt(stats.Size, 10)},
		{"Pages", strconv.FormatInt(stats.Pages, 10)},
		{"Oldest", formatTime(stats.Oldest)},
		{"Newest", formatTime(stats.Newest)},
	}
	fmt.Println(renderTable([]string{"Cache", a.cache.Dir()}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
