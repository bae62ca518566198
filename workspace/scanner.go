// Package workspace collects the medical documents in a folder into one text
// bundle: markdown notes read as-is and PDFs read through the text cache.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	medcompanion "github.com/pnavin9/MedCompanion"
	"github.com/pnavin9/MedCompanion/doccache"
	"golang.org/x/text/cases"
)

// NoDocuments is the bundle text when a workspace holds nothing eligible.
const NoDocuments = "No medical documents found in workspace."

// excludedPrefixes are markdown name prefixes for project docs that are not
// patient material. Compared after case folding.
var excludedPrefixes = []string{
	"test_",
	"readme",
	"implementation",
	"manual",
	"quickstart",
	"medical_summary",
}

// Kind is the source format of a bundled document.
type Kind string

const (
	KindMarkdown Kind = "markdown"
	KindPDF      Kind = "pdf"
)

// Document is one file included in a bundle.
type Document struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// Bundle is the result of a scan.
type Bundle struct {
	Documents []Document
	blocks    []string
}

// Text returns the concatenated document blocks, or NoDocuments when the
// bundle is empty.
func (b *Bundle) Text() string {
	if len(b.blocks) == 0 {
		return NoDocuments
	}
	return strings.Join(b.blocks, "\n")
}

// Cache is the subset of the document cache the scanner needs.
type Cache interface {
	IsCached(ctx context.Context, path string, ttl time.Duration) bool
	ExtractAndCache(ctx context.Context, path string) (*doccache.Entry, error)
	CachedText(ctx context.Context, path string) (string, bool)
}

// Scanner builds bundles from workspace folders.
type Scanner struct {
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger for the scanner.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithTTL sets how old a cached PDF may be before it is extracted again.
func WithTTL(ttl time.Duration) Option {
	return func(s *Scanner) {
		s.ttl = ttl
	}
}

// New returns a Scanner that reads PDFs through cache.
func New(cache Cache, opts ...Option) *Scanner {
	s := &Scanner{
		cache:  cache,
		ttl:    doccache.DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "workspace")
	return s
}

// Scan reads every eligible document directly inside dir. Markdown comes
// before PDF and each group is ordered by file name. Unreadable documents
// are logged and left out.
func (s *Scanner) Scan(ctx context.Context, dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("workspace %s: %w", dir, medcompanion.ErrNotFound)
		}
		return nil, fmt.Errorf("checking workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory: %w", dir, medcompanion.ErrNotFound)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading workspace: %w", err)
	}

	var markdown, pdfs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".md":
			markdown = append(markdown, e.Name())
		case ".pdf":
			pdfs = append(pdfs, e.Name())
		}
	}
	sort.Strings(markdown)
	sort.Strings(pdfs)

	bundle := &Bundle{}
	for _, name := range markdown {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.excluded(name) {
			continue
		}
		path := filepath.Join(dir, name)
		content, ok := s.readMarkdown(path)
		if !ok {
			continue
		}
		bundle.add(Document{Name: name, Path: path, Kind: KindMarkdown}, name, content)
	}

	for _, name := range pdfs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, name)
		text, ok := s.readPDF(ctx, path)
		if !ok {
			continue
		}
		bundle.add(Document{Name: name, Path: path, Kind: KindPDF}, name+" (PDF)", text)
	}

	s.logger.Info("workspace scanned", "dir", dir, "documents", len(bundle.Documents))
	return bundle, nil
}

func (b *Bundle) add(doc Document, header, content string) {
	b.Documents = append(b.Documents, doc)
	b.blocks = append(b.blocks, fmt.Sprintf("\n--- File: %s ---\n%s\n--- End of file ---\n", header, content))
}

func (s *Scanner) excluded(name string) bool {
	// Casers carry state, so each call gets its own.
	folded := cases.Fold().String(name)
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(folded, prefix) {
			return true
		}
	}
	return false
}

func (s *Scanner) readMarkdown(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("reading markdown", "path", path, "error", err)
		return "", false
	}
	if !utf8.Valid(data) {
		s.logger.Warn("markdown is not valid UTF-8", "path", path)
		return "", false
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	return content, true
}

func (s *Scanner) readPDF(ctx context.Context, path string) (string, bool) {
	if !s.cache.IsCached(ctx, path, s.ttl) {
		if _, err := s.cache.ExtractAndCache(ctx, path); err != nil {
			s.logger.Warn("extracting pdf", "path", path, "error", err)
			return "", false
		}
	}
	text, ok := s.cache.CachedText(ctx, path)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}
