package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const tempPrefix = ".tmp-"

// ErrInvalidKey is returned for keys that are not a plain file name.
var ErrInvalidKey = errors.New("invalid key")

// Filesystem implements Backend on a single flat directory: every key is a
// file name directly inside the root. Writes go to a temp file next to the
// destination and are renamed into place, so a key is either absent or
// complete.
type Filesystem struct {
	root string
}

// NewFilesystem opens the directory at root, creating it if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: abs}, nil
}

// Root returns the absolute root directory.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Path returns the file backing key. It does not check that key is valid.
func (fs *Filesystem) Path(key string) string {
	return filepath.Join(fs.root, key)
}

func (fs *Filesystem) resolve(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, tempPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.root, key), nil
}

// Write stores everything read from r under key.
func (fs *Filesystem) Write(ctx context.Context, key string, r io.Reader) error {
	w, err := fs.create(key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Abort()
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return w.Close()
}

// Read opens the value stored under key.
func (fs *Filesystem) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	return f, nil
}

// Delete removes key. A missing key is not an error.
func (fs *Filesystem) Delete(ctx context.Context, key string) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key holds a value.
func (fs *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
}

// List returns the keys starting with prefix, sorted. Subdirectories and
// temp files of in-flight writes are skipped.
func (fs *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(fs.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasPrefix(name, prefix) {
			continue
		}
		keys = append(keys, name)
	}
	// ReadDir already sorts by name; keep the contract explicit.
	slices.Sort(keys)
	return keys, nil
}

// Size returns the stored size of key in bytes.
func (fs *Filesystem) Size(ctx context.Context, key string) (int64, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size(), nil
}

// Reset removes the root directory and everything in it, then recreates it
// empty.
func (fs *Filesystem) Reset(ctx context.Context) error {
	if err := os.RemoveAll(fs.root); err != nil {
		return fmt.Errorf("removing root directory: %w", err)
	}
	if err := os.MkdirAll(fs.root, 0755); err != nil {
		return fmt.Errorf("creating root directory: %w", err)
	}
	return nil
}

// Writer returns a writer whose data replaces key on Close. The returned
// writer implements Aborter.
func (fs *Filesystem) Writer(ctx context.Context, key string) (io.WriteCloser, error) {
	return fs.create(key)
}

func (fs *Filesystem) create(key string) (*atomicWriter, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}
	// The root may have been removed by a concurrent Reset.
	if err := os.MkdirAll(fs.root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	tmp, err := os.CreateTemp(fs.root, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &atomicWriter{f: tmp, dst: path}, nil
}

// atomicWriter commits a temp file by rename.
type atomicWriter struct {
	f    *os.File
	dst  string
	done bool
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Close syncs the temp file and renames it over the destination.
func (w *atomicWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	tmp := w.f.Name()
	err := w.f.Sync()
	if err == nil {
		err = w.f.Close()
	} else {
		_ = w.f.Close()
	}
	if err == nil {
		err = os.Rename(tmp, w.dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("committing %s: %w", filepath.Base(w.dst), err)
	}
	return nil
}

// Abort discards the write.
func (w *atomicWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.f.Name())
}

var (
	_ WriterBackend     = (*Filesystem)(nil)
	_ SizeAwareBackend  = (*Filesystem)(nil)
	_ ResettableBackend = (*Filesystem)(nil)
	_ Aborter           = (*atomicWriter)(nil)
)
