package doccache

import (
	"context"
	"errors"
	"time"

	medcompanion "github.com/pnavin9/MedCompanion"
)

// PreprocessStatus is the outcome for one document of a Preprocess run.
type PreprocessStatus string

const (
	StatusAlreadyCached PreprocessStatus = "already_cached"
	StatusCached        PreprocessStatus = "cached"
	StatusFailed        PreprocessStatus = "failed"
)

// PreprocessDetail reports what happened to one requested path. Pages is
// set only for fresh extractions, where zero means a blank document.
type PreprocessDetail struct {
	Path   string           `json:"path"`
	Status PreprocessStatus `json:"status"`
	Pages  *int             `json:"pages,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// PreprocessResult summarises a Preprocess run. Processed counts both fresh
// hits and new extractions.
type PreprocessResult struct {
	Processed int                `json:"processed"`
	Failed    int                `json:"failed"`
	Details   []PreprocessDetail `json:"details"`
}

// Preprocess warms the cache for paths in order. Documents cached within
// DefaultTTL are left alone. A failure is recorded for that path and the run
// continues; only cancellation of ctx stops it early.
func (c *Cache) Preprocess(ctx context.Context, paths []string) (*PreprocessResult, error) {
	return c.PreprocessTTL(ctx, paths, DefaultTTL)
}

// PreprocessTTL is Preprocess with an explicit freshness window.
func (c *Cache) PreprocessTTL(ctx context.Context, paths []string, ttl time.Duration) (*PreprocessResult, error) {
	res := &PreprocessResult{Details: make([]PreprocessDetail, 0, len(paths))}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if c.IsCached(ctx, path, ttl) {
			res.Processed++
			res.Details = append(res.Details, PreprocessDetail{Path: path, Status: StatusAlreadyCached})
			continue
		}

		entry, err := c.ExtractAndCache(ctx, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Failed++
			res.Details = append(res.Details, PreprocessDetail{
				Path:   path,
				Status: StatusFailed,
				Error:  failureReason(path, err),
			})
			continue
		}
		res.Processed++
		pages := entry.Pages
		res.Details = append(res.Details, PreprocessDetail{Path: path, Status: StatusCached, Pages: &pages})
	}
	return res, nil
}

func failureReason(path string, err error) string {
	if errors.Is(err, medcompanion.ErrNotFound) {
		return "File not found: " + path
	}
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return err.Error()
}
