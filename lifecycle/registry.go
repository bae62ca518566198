// Package lifecycle tracks output folders created during the process lifetime
// and removes them at shutdown.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// Registry is an ordered list of folders to delete at shutdown. It is safe
// for concurrent use.
type Registry struct {
	mu     sync.Mutex
	paths  []string
	logger *slog.Logger
}

// CleanupResult summarizes a CleanupAll call.
type CleanupResult struct {
	Removed []string
	Missing []string
	Failed  map[string]error
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "lifecycle")}
}

// Register appends path. Duplicates are kept.
func (r *Registry) Register(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

// Paths returns a copy of the registered paths in registration order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// CleanupAll drains the list and recursively removes every path that still
// exists. Per-path errors are logged and reported, never returned. Paths
// registered while cleanup runs are kept for a later call. ctx is checked
// between paths; on cancellation the rest stay registered.
func (r *Registry) CleanupAll(ctx context.Context) CleanupResult {
	r.mu.Lock()
	paths := r.paths
	r.paths = nil
	r.mu.Unlock()

	res := CleanupResult{Failed: map[string]error{}}
	for i, p := range paths {
		if ctx.Err() != nil {
			r.mu.Lock()
			r.paths = append(append([]string(nil), paths[i:]...), r.paths...)
			r.mu.Unlock()
			r.logger.Warn("cleanup interrupted", "remaining", len(paths)-i, "error", ctx.Err())
			break
		}

		if _, err := os.Lstat(p); err != nil {
			if os.IsNotExist(err) {
				res.Missing = append(res.Missing, p)
				continue
			}
			res.Failed[p] = err
			r.logger.Error("checking output folder", "path", p, "error", err)
			continue
		}

		if err := os.RemoveAll(p); err != nil {
			res.Failed[p] = err
			r.logger.Error("removing output folder", "path", p, "error", err)
			continue
		}
		res.Removed = append(res.Removed, p)
		r.logger.Info("removed output folder", "path", p)
	}
	return res
}
