package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	medcompanion "github.com/pnavin9/MedCompanion"
	"github.com/pnavin9/MedCompanion/doccache"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	fresh    map[string]bool
	text     map[string]string
	fail     map[string]bool
	extracts []string
}

func (f *fakeCache) IsCached(_ context.Context, path string, _ time.Duration) bool {
	return f.fresh[filepath.Base(path)]
}

func (f *fakeCache) ExtractAndCache(_ context.Context, path string) (*doccache.Entry, error) {
	name := filepath.Base(path)
	f.extracts = append(f.extracts, name)
	if f.fail[name] {
		return nil, &doccache.ExtractError{Path: path, Reason: "broken"}
	}
	return &doccache.Entry{Filename: name}, nil
}

func (f *fakeCache) CachedText(_ context.Context, path string) (string, bool) {
	text, ok := f.text[filepath.Base(path)]
	return text, ok
}

func newTestScanner(t *testing.T, cache Cache) *Scanner {
	t.Helper()
	return New(cache)
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestScanBundle(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"visit.md":   "BP 120/80",
		"allergy.md": "Penicillin",
		"labs.pdf":   "",
		"notes.txt":  "ignored",
	})
	cache := &fakeCache{text: map[string]string{"labs.pdf": "--- Page 1 ---\nHbA1c 5.6"}}
	s := newTestScanner(t, cache)

	b, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)

	want := "\n--- File: allergy.md ---\nPenicillin\n--- End of file ---\n" +
		"\n" +
		"\n--- File: visit.md ---\nBP 120/80\n--- End of file ---\n" +
		"\n" +
		"\n--- File: labs.pdf (PDF) ---\n--- Page 1 ---\nHbA1c 5.6\n--- End of file ---\n"
	require.Equal(t, want, b.Text())

	require.Equal(t, []Document{
		{Name: "allergy.md", Path: filepath.Join(dir, "allergy.md"), Kind: KindMarkdown},
		{Name: "visit.md", Path: filepath.Join(dir, "visit.md"), Kind: KindMarkdown},
		{Name: "labs.pdf", Path: filepath.Join(dir, "labs.pdf"), Kind: KindPDF},
	}, b.Documents)
	require.Equal(t, []string{"labs.pdf"}, cache.extracts)
}

func TestScanExcludedMarkdown(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"README.md":              "project",
		"readme-old.md":          "project",
		"Implementation_Plan.md": "plan",
		"MANUAL.md":              "manual",
		"QuickStart.md":          "start",
		"Medical_Summary_1.md":   "summary",
		"test_fixture.md":        "fixture",
		"TEST_upper.md":          "fixture",
		"blank.md":               "  \n\t",
		"history.md":             "Appendectomy 2019",
	})
	s := newTestScanner(t, &fakeCache{})

	b, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, b.Documents, 1)
	require.Equal(t, "history.md", b.Documents[0].Name)
}

func TestScanFreshPDFSkipsExtraction(t *testing.T) {
	dir := writeFiles(t, map[string]string{"scan.pdf": ""})
	cache := &fakeCache{
		fresh: map[string]bool{"scan.pdf": true},
		text:  map[string]string{"scan.pdf": "cached"},
	}
	s := newTestScanner(t, cache)

	b, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Empty(t, cache.extracts)
	require.Contains(t, b.Text(), "cached")
}

func TestScanSkipsFailedAndEmptyPDFs(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.pdf": "", "empty.pdf": "", "good.pdf": ""})
	cache := &fakeCache{
		fail: map[string]bool{"bad.pdf": true},
		text: map[string]string{"empty.pdf": "", "good.pdf": "text"},
	}
	s := newTestScanner(t, cache)

	b, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, b.Documents, 1)
	require.Equal(t, "good.pdf", b.Documents[0].Name)
	require.Equal(t, []string{"bad.pdf", "empty.pdf", "good.pdf"}, cache.extracts)
}

func TestScanNoDocuments(t *testing.T) {
	dir := writeFiles(t, map[string]string{"README.md": "docs"})
	s := newTestScanner(t, &fakeCache{})

	b, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Empty(t, b.Documents)
	require.Equal(t, NoDocuments, b.Text())
}

func TestScanMissingWorkspace(t *testing.T) {
	s := newTestScanner(t, &fakeCache{})

	_, err := s.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.True(t, errors.Is(err, medcompanion.ErrNotFound))
}

func TestScanWithDocumentCache(t *testing.T) {
	dir := writeFiles(t, map[string]string{"report.pdf": "%PDF-1.4"})
	ex := &countingExtractor{pages: []string{"Creatinine 0.9"}}
	cache, err := doccache.Open(filepath.Join(t.TempDir(), "cache"), ex)
	require.NoError(t, err)
	s := newTestScanner(t, cache)

	for range 2 {
		b, err := s.Scan(context.Background(), dir)
		require.NoError(t, err)
		require.Contains(t, b.Text(), "--- File: report.pdf (PDF) ---\n--- Page 1 ---\nCreatinine 0.9\n")
	}
	require.Equal(t, 1, ex.calls)
}

type countingExtractor struct {
	pages []string
	calls int
}

func (c *countingExtractor) Extract(context.Context, string) ([]string, error) {
	c.calls++
	return c.pages, nil
}
