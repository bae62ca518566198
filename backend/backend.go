// Package backend provides the file storage used for cache entries and
// conversion artifacts.
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("not found")

// Backend stores opaque blobs under slash-separated keys.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key, replacing any previous value.
	// Readers never observe a partially written value.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// WriterBackend extends Backend with streaming writes, used when the
// producer is an encoder that wants an io.Writer.
type WriterBackend interface {
	Backend

	// Writer returns a WriteCloser for the given key.
	// The value is only committed when Close returns nil.
	Writer(ctx context.Context, key string) (io.WriteCloser, error)
}

// SizeAwareBackend extends Backend with size information.
type SizeAwareBackend interface {
	Backend

	// Size returns the size in bytes of the data at the given key.
	// Returns ErrNotFound if the key does not exist.
	Size(ctx context.Context, key string) (int64, error)
}

// ResettableBackend can drop every key at once.
type ResettableBackend interface {
	Backend

	// Reset removes all keys, leaving an empty backend behind.
	Reset(ctx context.Context) error
}

// Aborter is implemented by writers that can discard an uncommitted value.
type Aborter interface {
	Abort() error
}
