// Package expiry removes document cache entries that are past a retention
// period or that push the cache over a size budget, and prunes old run
// history.
package expiry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	medcompanion "github.com/pnavin9/MedCompanion"
	"github.com/pnavin9/MedCompanion/doccache"
	"github.com/pnavin9/MedCompanion/telemetry"
)

// Config holds expiration configuration.
type Config struct {
	// Retention is how long an entry is kept after it was cached.
	// Zero means no age-based expiration.
	Retention time.Duration

	// MaxSize is the maximum total size of cached text in bytes.
	// When exceeded, the oldest entries are removed until under the limit.
	// Zero means no size limit.
	MaxSize int64

	// RunRetention is how long run history is kept. Zero keeps it forever.
	RunRetention time.Duration

	// CheckInterval is how often to run expiration checks.
	// Default is 1 hour.
	CheckInterval time.Duration

	// Logger for expiration events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Retention:     7 * 24 * time.Hour,
		MaxSize:       1 << 30,
		RunRetention:  30 * 24 * time.Hour,
		CheckInterval: 1 * time.Hour,
		Logger:        slog.Default(),
	}
}

// Index is the view of the document cache the manager works on.
type Index interface {
	Entries(ctx context.Context) ([]*doccache.Entry, error)
	Remove(ctx context.Context, h medcompanion.Hash) error
}

// RunPruner drops run history older than a cutoff.
type RunPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Manager handles cache expiration by age and size.
type Manager struct {
	config Config
	index  Index
	runs   RunPruner
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a new expiration manager. runs may be nil.
func NewManager(index Index, runs RunPruner, cfg Config) *Manager {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 1 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		config: cfg,
		index:  index,
		runs:   runs,
		logger: cfg.Logger.With("component", "expiry"),
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background expiration checks.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop stops background expiration checks and waits for a check in
// progress to finish. It is safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	m.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// RunOnce performs a single expiration check.
func (m *Manager) RunOnce(ctx context.Context) *ExpireResult {
	return m.runOnce(ctx)
}

// ExpireResult contains the results of an expiration run.
type ExpireResult struct {
	AgeExpired  int
	SizeEvicted int
	RunsPruned  int
	BytesFreed  int64
	Errors      int
	Duration    time.Duration
}

func (m *Manager) runOnce(ctx context.Context) *ExpireResult {
	start := m.now()
	result := &ExpireResult{}

	m.logger.Debug("starting expiration check")

	entries, err := m.index.Entries(ctx)
	if err != nil {
		m.logger.Error("failed to list cache entries", "error", err)
		result.Errors++
		return result
	}

	if m.config.Retention > 0 {
		entries = m.expireByAge(ctx, entries, m.now().Add(-m.config.Retention), result)
	}
	if m.config.MaxSize > 0 {
		m.evictBySize(ctx, entries, result)
	}
	if m.runs != nil && m.config.RunRetention > 0 {
		n, err := m.runs.Prune(ctx, m.now().Add(-m.config.RunRetention))
		if err != nil {
			m.logger.Warn("failed to prune run history", "error", err)
			result.Errors++
		}
		result.RunsPruned = n
	}

	result.Duration = m.now().Sub(start)
	telemetry.RecordExpiryCycle(ctx, "age", result.AgeExpired, result.Duration)
	telemetry.RecordExpiryCycle(ctx, "size", result.SizeEvicted, result.Duration)

	if result.AgeExpired > 0 || result.SizeEvicted > 0 || result.RunsPruned > 0 {
		m.logger.Info("expiration complete",
			"age_expired", result.AgeExpired,
			"size_evicted", result.SizeEvicted,
			"runs_pruned", result.RunsPruned,
			"bytes_freed", result.BytesFreed,
			"duration", result.Duration,
		)
	} else {
		m.logger.Debug("expiration complete, nothing to expire")
	}

	return result
}

// expireByAge removes entries cached before cutoff and returns the rest.
func (m *Manager) expireByAge(ctx context.Context, entries []*doccache.Entry, cutoff time.Time, result *ExpireResult) []*doccache.Entry {
	var remaining []*doccache.Entry
	for _, e := range entries {
		if !e.CachedAt.Before(cutoff) {
			remaining = append(remaining, e)
			continue
		}
		if err := m.index.Remove(ctx, e.Hash); err != nil {
			m.logger.Warn("failed to remove expired entry",
				"hash", e.Hash.ShortString(),
				"path", e.OriginalPath,
				"error", err,
			)
			result.Errors++
			continue
		}
		result.AgeExpired++
		result.BytesFreed += e.Size
		m.logger.Debug("expired entry by age",
			"hash", e.Hash.ShortString(),
			"path", e.OriginalPath,
			"age", m.now().Sub(e.CachedAt),
		)
	}
	return remaining
}

func (m *Manager) evictBySize(ctx context.Context, entries []*doccache.Entry, result *ExpireResult) {
	var totalSize int64
	for _, e := range entries {
		totalSize += e.Size
	}
	if totalSize <= m.config.MaxSize {
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CachedAt.Before(entries[j].CachedAt)
	})

	for _, e := range entries {
		if totalSize <= m.config.MaxSize {
			break
		}
		if err := m.index.Remove(ctx, e.Hash); err != nil {
			m.logger.Warn("failed to evict entry",
				"hash", e.Hash.ShortString(),
				"error", err,
			)
			result.Errors++
			continue
		}
		result.SizeEvicted++
		result.BytesFreed += e.Size
		totalSize -= e.Size
		m.logger.Debug("evicted entry by size",
			"hash", e.Hash.ShortString(),
			"cached_at", e.CachedAt,
			"size", e.Size,
		)
	}
}

// ForceExpire immediately removes entries cached more than olderThan ago.
func (m *Manager) ForceExpire(ctx context.Context, olderThan time.Duration) *ExpireResult {
	result := &ExpireResult{}
	start := m.now()

	entries, err := m.index.Entries(ctx)
	if err != nil {
		result.Errors++
		return result
	}
	m.expireByAge(ctx, entries, m.now().Add(-olderThan), result)

	result.Duration = m.now().Sub(start)
	telemetry.RecordExpiryCycle(ctx, "forced", result.AgeExpired, result.Duration)
	return result
}

// Stats contains aggregate statistics about the document cache.
type Stats struct {
	Entries int64     `json:"entries"`
	Size    int64     `json:"size"`
	Pages   int64     `json:"pages"`
	Oldest  time.Time `json:"oldest,omitzero"`
	Newest  time.Time `json:"newest,omitzero"`
}

// GetStats returns current cache statistics.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	return CollectStats(ctx, m.index)
}

// CollectStats summarises the entries of index.
func CollectStats(ctx context.Context, index Index) (*Stats, error) {
	entries, err := index.Entries(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, e := range entries {
		stats.Entries++
		stats.Size += e.Size
		stats.Pages += int64(e.Pages)
		if stats.Oldest.IsZero() || e.CachedAt.Before(stats.Oldest) {
			stats.Oldest = e.CachedAt
		}
		if e.CachedAt.After(stats.Newest) {
			stats.Newest = e.CachedAt
		}
	}
	return stats, nil
}
