package doccache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreprocess(t *testing.T) {
	ex := &fakeExtractor{
		pages: map[string][]string{
			"fresh.pdf": {"one"},
			"new.pdf":   {"one", "two"},
		},
		fail: map[string]error{"bad.pdf": errors.New("damaged xref")},
	}
	c, _ := newTestCache(t, ex)
	ctx := context.Background()
	dir := t.TempDir()
	fresh := writeDoc(t, dir, "fresh.pdf")
	newDoc := writeDoc(t, dir, "new.pdf")
	bad := writeDoc(t, dir, "bad.pdf")
	missing := filepath.Join(dir, "missing.pdf")

	_, err := c.ExtractAndCache(ctx, fresh)
	require.NoError(t, err)

	res, err := c.Preprocess(ctx, []string{fresh, newDoc, bad, missing})
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, []PreprocessDetail{
		{Path: fresh, Status: StatusAlreadyCached},
		{Path: newDoc, Status: StatusCached, Pages: ptr(2)},
		{Path: bad, Status: StatusFailed, Error: "damaged xref"},
		{Path: missing, Status: StatusFailed, Error: "File not found: " + missing},
	}, res.Details)
}

func ptr(n int) *int { return &n }

func TestPreprocessBlankDocumentKeepsZeroPages(t *testing.T) {
	c, _ := newTestCache(t, &fakeExtractor{pages: map[string][]string{"blank.pdf": {}}})
	blank := writeDoc(t, t.TempDir(), "blank.pdf")

	res, err := c.Preprocess(context.Background(), []string{blank})
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Len(t, res.Details, 1)
	require.NotNil(t, res.Details[0].Pages)
	require.Zero(t, *res.Details[0].Pages)

	out, err := json.Marshal(res.Details[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"path":"`+blank+`","status":"cached","pages":0}`, string(out))
}

func TestPreprocessEmpty(t *testing.T) {
	c, _ := newTestCache(t, &fakeExtractor{})

	res, err := c.Preprocess(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, res.Processed)
	require.Zero(t, res.Failed)
	require.NotNil(t, res.Details)
}

func TestPreprocessCancelled(t *testing.T) {
	c, _ := newTestCache(t, &fakeExtractor{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Preprocess(ctx, []string{"a.pdf"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, res.Details)
}
