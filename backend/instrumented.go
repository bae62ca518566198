package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pnavin9/MedCompanion/telemetry"
)

// InstrumentedBackend wraps a Backend and records an operation metric for
// every call.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend creates a new instrumented backend wrapper.
// name labels the metrics, e.g. "doccache" or "series".
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

func (ib *InstrumentedBackend) Write(ctx context.Context, key string, r io.Reader) error {
	start := time.Now()
	cr := &countingReader{r: r}
	err := ib.backend.Write(ctx, key, cr)
	telemetry.RecordBackendOp(ctx, ib.name, "write", outcomeFromError(err), time.Since(start), cr.n)
	return err
}

func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := ib.backend.Read(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "read", outcomeFromError(err), time.Since(start), 0)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (ib *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ib.backend.Delete(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "delete", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (ib *InstrumentedBackend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := ib.backend.Exists(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "exists", outcomeFromError(err), time.Since(start), 0)
	return exists, err
}

func (ib *InstrumentedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := ib.backend.List(ctx, prefix)
	telemetry.RecordBackendOp(ctx, ib.name, "list", outcomeFromError(err), time.Since(start), 0)
	return keys, err
}

// Size delegates to the underlying backend if it implements SizeAwareBackend.
func (ib *InstrumentedBackend) Size(ctx context.Context, key string) (int64, error) {
	sb, ok := ib.backend.(SizeAwareBackend)
	if !ok {
		return 0, ErrNotFound
	}
	start := time.Now()
	size, err := sb.Size(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "size", outcomeFromError(err), time.Since(start), 0)
	return size, err
}

// Writer delegates to the underlying backend if it implements WriterBackend.
// Bytes are counted and recorded when the writer is closed.
func (ib *InstrumentedBackend) Writer(ctx context.Context, key string) (io.WriteCloser, error) {
	wb, ok := ib.backend.(WriterBackend)
	if !ok {
		return nil, fmt.Errorf("backend does not support Writer")
	}
	start := time.Now()
	wc, err := wb.Writer(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "writer", outcomeFromError(err), time.Since(start), 0)
		return nil, err
	}
	return &countingWriter{ctx: ctx, ib: ib, w: wc, start: start}, nil
}

// Reset delegates to the underlying backend if it implements ResettableBackend.
func (ib *InstrumentedBackend) Reset(ctx context.Context) error {
	rb, ok := ib.backend.(ResettableBackend)
	if !ok {
		return fmt.Errorf("backend does not support Reset")
	}
	start := time.Now()
	err := rb.Reset(ctx)
	telemetry.RecordBackendOp(ctx, ib.name, "reset", outcomeFromError(err), time.Since(start), 0)
	return err
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() Backend {
	return ib.backend
}

func outcomeFromError(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}

// countingReader wraps a reader and counts bytes read.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// countingWriter counts bytes written through a backend writer and records
// the operation once, on Close or Abort.
type countingWriter struct {
	ctx   context.Context
	ib    *InstrumentedBackend
	w     io.WriteCloser
	start time.Time
	n     int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) Close() error {
	err := cw.w.Close()
	telemetry.RecordBackendOp(cw.ctx, cw.ib.name, "writer", outcomeFromError(err), time.Since(cw.start), cw.n)
	return err
}

func (cw *countingWriter) Abort() error {
	a, ok := cw.w.(Aborter)
	if !ok {
		return nil
	}
	err := a.Abort()
	telemetry.RecordBackendOp(cw.ctx, cw.ib.name, "abort", outcomeFromError(err), time.Since(cw.start), 0)
	return err
}

var (
	_ Backend           = (*InstrumentedBackend)(nil)
	_ WriterBackend     = (*InstrumentedBackend)(nil)
	_ SizeAwareBackend  = (*InstrumentedBackend)(nil)
	_ ResettableBackend = (*InstrumentedBackend)(nil)
	_ Aborter           = (*countingWriter)(nil)
)
