// Package doccache caches the extracted text of PDF documents on disk,
// keyed by a hash of the document's absolute path.
//
// Each entry is two files in the cache directory: <hash>.txt holding the
// page-labelled text and <hash>.json holding the sidecar metadata.
// Freshness is decided by the caller through a TTL; stale entries are
// simply re-extracted.
package doccache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	medcompanion "github.com/pnavin9/MedCompanion"
	"github.com/pnavin9/MedCompanion/backend"
	"github.com/pnavin9/MedCompanion/telemetry"
)

const (
	// DefaultTTL is the freshness window used by the workspace scanner and
	// the preprocess endpoint.
	DefaultTTL = 15 * time.Minute

	// DefaultExtractTimeout bounds a single document extraction.
	DefaultExtractTimeout = 2 * time.Minute

	lockRetryDelay = 50 * time.Millisecond
)

// Extractor returns the text of every page of a document, in order.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
}

// Cache is the on-disk text cache. It is safe for concurrent use.
type Cache struct {
	dir            string
	lockPath       string
	fs             *backend.Filesystem
	store          *backend.InstrumentedBackend
	extractor      Extractor
	extractTimeout time.Duration
	flight         flight
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithExtractTimeout bounds each extraction. Zero or negative disables the
// bound.
func WithExtractTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.extractTimeout = d
	}
}

// WithNow sets the clock used for cached_at and freshness checks.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Open creates the cache directory if needed and returns a Cache over it.
// The lock file lives beside the directory so Clear can remove the
// directory while holding it.
func Open(dir string, ex Extractor, opts ...Option) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache dir: %w", err)
	}
	fs, err := backend.NewFilesystem(abs)
	if err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	c := &Cache{
		dir:            abs,
		lockPath:       abs + ".lock",
		fs:             fs,
		store:          backend.NewInstrumentedBackend(fs, "doccache"),
		extractor:      ex,
		extractTimeout: DefaultExtractTimeout,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "doccache")
	return c, nil
}

// Dir returns the absolute cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Key returns the cache key for the document at path.
func (c *Cache) Key(path string) (medcompanion.Hash, error) {
	return medcompanion.HashPath(path)
}

// ExtractAndCache extracts the document at path and stores its text and
// sidecar, replacing any previous entry. Concurrent calls for the same
// document share one extraction.
func (c *Cache) ExtractAndCache(ctx context.Context, path string) (*Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s: %w", path, medcompanion.ErrNotFound)
		}
		return nil, fmt.Errorf("checking %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, medcompanion.ErrNotFound)
	}

	h := medcompanion.HashBytes([]byte(abs))
	entry, shared, err := c.flight.do(ctx, h.String(), func(ctx context.Context) (*Entry, error) {
		return c.extract(ctx, abs, h)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("shared extraction", "path", abs)
	}
	return entry, nil
}

func (c *Cache) extract(ctx context.Context, abs string, h medcompanion.Hash) (*Entry, error) {
	start := time.Now()
	pages, err := c.runExtractor(ctx, abs)
	if err != nil {
		telemetry.RecordExtraction(ctx, "error", 0, time.Since(start))
		c.logger.Warn("extraction failed", "path", abs, "error", err)
		return nil, &ExtractError{Path: abs, Reason: err.Error(), Err: err}
	}

	text := JoinPages(pages)
	entry := &Entry{
		Hash:         h,
		OriginalPath: abs,
		Filename:     filepath.Base(abs),
		Pages:        len(pages),
		CachedAt:     c.now(),
		CachedPath:   c.fs.Path(medcompanion.TextKey(h)),
	}

	if err := c.withSharedLock(ctx, func() error {
		return c.writeEntry(ctx, entry, text)
	}); err != nil {
		telemetry.RecordExtraction(ctx, "error", 0, time.Since(start))
		return nil, err
	}

	telemetry.RecordExtraction(ctx, "success", len(pages), time.Since(start))
	c.logger.Info("cached document", "path", abs, "pages", len(pages), "duration", time.Since(start))
	return entry, nil
}

// runExtractor calls the extractor under the extract timeout. A panic in
// the extractor is reported as an error.
func (c *Cache) runExtractor(ctx context.Context, path string) ([]string, error) {
	if c.extractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.extractTimeout)
		defer cancel()
	}

	type result struct {
		pages []string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()
		pages, err := c.extractor.Extract(ctx, path)
		ch <- result{pages: pages, err: err}
	}()

	select {
	case res := <-ch:
		return res.pages, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("extraction timed out: %w", ctx.Err())
	}
}

func (c *Cache) writeEntry(ctx context.Context, entry *Entry, text string) error {
	if err := c.store.Write(ctx, medcompanion.TextKey(entry.Hash), strings.NewReader(text)); err != nil {
		return fmt.Errorf("writing cached text: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := c.store.Write(ctx, medcompanion.SidecarKey(entry.Hash), bytes.NewReader(data)); err != nil {
		_ = c.store.Delete(ctx, medcompanion.TextKey(entry.Hash))
		return fmt.Errorf("writing sidecar: %w", err)
	}
	return nil
}

// IsCached reports whether the document at path has both cache files and
// was cached no longer than ttl ago. Any read or parse problem counts as
// not cached.
func (c *Cache) IsCached(ctx context.Context, path string, ttl time.Duration) bool {
	fresh := c.isCached(ctx, path, ttl)
	result := telemetry.CacheMiss
	if fresh {
		result = telemetry.CacheHit
	}
	telemetry.RecordCacheLookup(ctx, result)
	return fresh
}

func (c *Cache) isCached(ctx context.Context, path string, ttl time.Duration) bool {
	h, err := c.Key(path)
	if err != nil {
		return false
	}
	ok, err := c.store.Exists(ctx, medcompanion.TextKey(h))
	if err != nil || !ok {
		return false
	}
	entry, err := c.readSidecar(ctx, h)
	if err != nil {
		c.logger.Debug("unreadable sidecar", "path", path, "error", err)
		return false
	}
	return entry.FreshAt(c.now(), ttl)
}

// CachedText returns the cached text for path regardless of age.
func (c *Cache) CachedText(ctx context.Context, path string) (string, bool) {
	h, err := c.Key(path)
	if err != nil {
		return "", false
	}
	rc, err := c.store.Read(ctx, medcompanion.TextKey(h))
	if err != nil {
		return "", false
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Lookup returns the sidecar entry for hash.
func (c *Cache) Lookup(ctx context.Context, h medcompanion.Hash) (*Entry, error) {
	entry, err := c.readSidecar(ctx, h)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, fmt.Errorf("entry %s: %w", h.ShortString(), medcompanion.ErrNotFound)
		}
		return nil, err
	}
	return entry, nil
}

func (c *Cache) readSidecar(ctx context.Context, h medcompanion.Hash) (*Entry, error) {
	rc, err := c.store.Read(ctx, medcompanion.SidecarKey(h))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var entry Entry
	if err := json.NewDecoder(rc).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decoding sidecar: %w", err)
	}
	entry.Hash = h
	return &entry, nil
}

// Entries lists every entry with a readable sidecar, with Size set to the
// text blob size. Orphaned or unreadable files are skipped.
func (c *Cache) Entries(ctx context.Context) ([]*Entry, error) {
	keys, err := c.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}

	var entries []*Entry
	for _, key := range keys {
		h, ext, err := medcompanion.ParseCacheKey(key)
		if err != nil || ext != medcompanion.SidecarExt {
			continue
		}
		entry, err := c.readSidecar(ctx, h)
		if err != nil {
			c.logger.Debug("skipping unreadable sidecar", "key", key, "error", err)
			continue
		}
		size, err := c.store.Size(ctx, medcompanion.TextKey(h))
		if err != nil {
			continue
		}
		entry.Size = size
		entries = append(entries, entry)
	}
	return entries, nil
}

// Remove deletes both files of the entry for hash.
func (c *Cache) Remove(ctx context.Context, h medcompanion.Hash) error {
	return c.withSharedLock(ctx, func() error {
		if err := c.store.Delete(ctx, medcompanion.SidecarKey(h)); err != nil {
			return fmt.Errorf("removing sidecar: %w", err)
		}
		if err := c.store.Delete(ctx, medcompanion.TextKey(h)); err != nil {
			return fmt.Errorf("removing cached text: %w", err)
		}
		return nil
	})
}

// Clear removes every entry and recreates an empty cache directory. It
// waits for in-progress writes, including those of other processes.
func (c *Cache) Clear(ctx context.Context) error {
	lock := flock.New(c.lockPath)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("locking cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("locking cache: %s is held", c.lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	if err := c.store.Reset(ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	c.logger.Info("cache cleared", "dir", c.dir)
	return nil
}

func (c *Cache) withSharedLock(ctx context.Context, fn func() error) error {
	lock := flock.New(c.lockPath)
	locked, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("locking cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("locking cache: %s is held", c.lockPath)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// JoinPages labels each page that has text with its 1-based number and
// joins them with a blank line. Whitespace-only pages are left out but still
// count toward the numbering. Page text is kept verbatim.
func JoinPages(pages []string) string {
	var parts []string
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i+1, text))
	}
	return strings.Join(parts, "\n\n")
}
