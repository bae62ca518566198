package runlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pnavin9/MedCompanion/doccache"
	"github.com/pnavin9/MedCompanion/series"
)

// FromConversion builds the run record of a series conversion. batch may be
// nil when the run failed before any item was processed.
func FromConversion(folder string, batch *series.OutputBatch, err error, started time.Time, took time.Duration) *Run {
	run := &Run{
		Kind:      KindConvert,
		Input:     folder,
		StartedAt: started,
		Duration:  took,
	}
	if err != nil {
		run.Error = err.Error()
	}
	if batch != nil {
		run.Output = batch.OutputFolder
		run.Total = batch.Total
		run.Succeeded = batch.Succeeded
		for _, it := range batch.Failures() {
			run.Items = append(run.Items, Item{Name: it.Filename, Status: string(it.Status), Reason: it.Reason})
		}
		run.Failed = len(run.Items)
	}
	run.Outcome = OutcomeOf(run.Total, run.Succeeded, err, isCancel(err))
	return run
}

// FromPreprocess builds the run record of a preprocess request. Every path
// is listed as an item so the record shows cache hits too.
func FromPreprocess(paths []string, res *doccache.PreprocessResult, err error, started time.Time, took time.Duration) *Run {
	run := &Run{
		Kind:      KindPreprocess,
		Input:     summarisePaths(paths),
		StartedAt: started,
		Duration:  took,
		Total:     len(paths),
	}
	if err != nil {
		run.Error = err.Error()
	}
	if res != nil {
		run.Succeeded = res.Processed
		run.Failed = res.Failed
		for _, d := range res.Details {
			run.Items = append(run.Items, Item{Name: d.Path, Status: string(d.Status), Reason: d.Error})
		}
	}
	run.Outcome = OutcomeOf(run.Total, run.Succeeded, err, isCancel(err))
	return run
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func summarisePaths(paths []string) string {
	switch len(paths) {
	case 0:
		return ""
	case 1:
		return paths[0]
	default:
		return fmt.Sprintf("%s (+%d more)", paths[0], len(paths)-1)
	}
}

// Recorder stores run records on a best-effort basis. A nil Recorder or
// one without a store drops records.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder returns a Recorder writing to store, which may be nil.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record stores run. Storage failures are logged and otherwise ignored so
// they never change the outcome of the run itself.
func (r *Recorder) Record(ctx context.Context, run *Run) {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.Put(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to record run", "kind", string(run.Kind), "input", run.Input, "error", err)
	}
}

// Store returns the underlying store, or nil.
func (r *Recorder) Store() *Store {
	if r == nil {
		return nil
	}
	return r.store
}
