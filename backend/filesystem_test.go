package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.Equal(t, root, fs.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestFilesystemWriteRead(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("--- Page 1 ---\nhello")

	require.NoError(t, fs.Write(ctx, "abc.txt", bytes.NewReader(data)))

	rc, err := fs.Read(ctx, "abc.txt")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFilesystemReadNotFound(t *testing.T) {
	fs := newTestFilesystem(t)

	_, err := fs.Read(context.Background(), "missing.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemExistsAndDelete(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	exists, err := fs.Exists(ctx, "a.json")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, fs.Write(ctx, "a.json", bytes.NewReader([]byte("{}"))))
	exists, err = fs.Exists(ctx, "a.json")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, fs.Delete(ctx, "a.json"))
	exists, _ = fs.Exists(ctx, "a.json")
	require.False(t, exists)

	// Deleting a missing key is not an error.
	require.NoError(t, fs.Delete(ctx, "a.json"))
}

func TestFilesystemSize(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("size check")

	require.NoError(t, fs.Write(ctx, "s.txt", bytes.NewReader(data)))

	size, err := fs.Size(ctx, "s.txt")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)

	_, err = fs.Size(ctx, "nope.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemListSkipsTempAndDirs(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	for _, key := range []string{"b.json", "a.txt", "ab.txt"} {
		require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("x"))))
	}
	require.NoError(t, os.Mkdir(filepath.Join(fs.Root(), "sub"), 0755))

	// An in-flight write leaves a temp file behind until Close.
	w, err := fs.Writer(ctx, "d.txt")
	require.NoError(t, err)
	defer func() { _ = w.(Aborter).Abort() }()

	all, err := fs.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "ab.txt", "b.json"}, all)

	withPrefix, err := fs.List(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "ab.txt"}, withPrefix)

	missing, err := fs.List(ctx, "nowhere")
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestFilesystemRejectsInvalidKeys(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	for _, key := range []string{"", ".", "..", "../escape.txt", "sub/c.png", `sub\c.png`, ".tmp-123"} {
		err := fs.Write(ctx, key, bytes.NewReader([]byte("x")))
		require.ErrorIs(t, err, ErrInvalidKey, key)

		_, err = fs.Read(ctx, key)
		require.ErrorIs(t, err, ErrInvalidKey, key)
	}

	entries, err := os.ReadDir(fs.Root())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFilesystemWriter(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("streamed png bytes")

	w, err := fs.Writer(ctx, "slice-0000.png")
	require.NoError(t, err)

	exists, _ := fs.Exists(ctx, "slice-0000.png")
	require.False(t, exists, "key must not exist before Close")

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Close())

	require.FileExists(t, fs.Path("slice-0000.png"))
	got, err := os.ReadFile(fs.Path("slice-0000.png"))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFilesystemAbortKeepsPreviousValue(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	original := []byte("original content")

	require.NoError(t, fs.Write(ctx, "keep.txt", bytes.NewReader(original)))

	w, err := fs.Writer(ctx, "keep.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("partial"))
	require.NoError(t, w.(Aborter).Abort())

	got, err := os.ReadFile(fs.Path("keep.txt"))
	require.NoError(t, err)
	require.Equal(t, original, got)

	entries, err := os.ReadDir(fs.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be removed on abort")
}

func TestFilesystemWriteFailedReaderLeavesNothing(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	err := fs.Write(ctx, "broken.txt", &failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(fs.Root())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFilesystemOverwrite(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "o.txt", bytes.NewReader([]byte("initial"))))
	newData := []byte("new content that is longer")
	require.NoError(t, fs.Write(ctx, "o.txt", bytes.NewReader(newData)))

	got, err := os.ReadFile(fs.Path("o.txt"))
	require.NoError(t, err)
	require.Equal(t, newData, got)
}

func TestFilesystemReset(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "a.txt", bytes.NewReader([]byte("a"))))
	require.NoError(t, fs.Write(ctx, "b.json", bytes.NewReader([]byte("b"))))

	require.NoError(t, fs.Reset(ctx))

	info, err := os.Stat(fs.Root())
	require.NoError(t, err)
	require.True(t, info.IsDir())

	keys, err := fs.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, keys)

	// Still usable after a reset.
	require.NoError(t, fs.Write(ctx, "c.txt", bytes.NewReader([]byte("c"))))
}

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return fs
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}
