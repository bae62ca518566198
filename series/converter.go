package series

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pnavin9/MedCompanion/backend"
	"github.com/pnavin9/MedCompanion/telemetry"
)

const (
	// OutputDirName is the folder created inside the input folder.
	OutputDirName = ".medcompanion-temp"
	// SeriesInfoFilename is the series-level metadata file in the output folder.
	SeriesInfoFilename = "series-info.json"
	// DefaultDecodeTimeout bounds a single decode call.
	DefaultDecodeTimeout = 60 * time.Second
)

// Decoded is a parsed DICOM file.
type Decoded struct {
	Tags   TagSet
	Pixels Pixels
}

// Decoder reads one DICOM file.
type Decoder interface {
	Decode(ctx context.Context, path string) (*Decoded, error)
}

// Registrar records output folders for removal at shutdown.
type Registrar interface {
	Register(path string)
}

// ProgressFunc is called after each file with the number of files handled
// so far and the total.
type ProgressFunc func(done, total int)

// ItemStatus is the outcome of one file.
type ItemStatus string

const (
	ItemConverted    ItemStatus = "converted"
	ItemDecodeFailed ItemStatus = "decode_failed"
	ItemWriteFailed  ItemStatus = "write_failed"
)

// ItemResult reports what happened to one input file.
type ItemResult struct {
	Index    int        `json:"index"`
	Filename string     `json:"filename"`
	Status   ItemStatus `json:"status"`
	Image    string     `json:"image,omitempty"`
	Metadata string     `json:"metadata,omitempty"`
	Reason   string     `json:"reason,omitempty"`

	// Err is the *DecodeError or *WriteError of a failed item.
	Err error `json:"-"`
}

// OutputBatch is the result of one conversion run.
type OutputBatch struct {
	OutputFolder   string
	SeriesInfoFile string
	// Total is the number of DICOM files discovered.
	Total int
	// Succeeded is the number of files converted.
	Succeeded int
	Series    SeriesMetadata
	// Items has one entry per discovered file, in slice order.
	Items []ItemResult
}

// Artifacts returns the filenames written for converted items, image then
// metadata, in slice order.
func (b *OutputBatch) Artifacts() []string {
	var names []string
	for _, it := range b.Items {
		if it.Status == ItemConverted {
			names = append(names, it.Image, it.Metadata)
		}
	}
	return names
}

// Failures returns the items that were skipped.
func (b *OutputBatch) Failures() []ItemResult {
	var failed []ItemResult
	for _, it := range b.Items {
		if it.Status != ItemConverted {
			failed = append(failed, it)
		}
	}
	return failed
}

// Converter runs series conversions. It holds no state between runs and is
// safe for concurrent use on different folders.
type Converter struct {
	decoder       Decoder
	extractor     *Extractor
	registry      Registrar
	logger        *slog.Logger
	decodeTimeout time.Duration
	progress      ProgressFunc
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithRegistry registers every output folder with r.
func WithRegistry(r Registrar) Option {
	return func(c *Converter) {
		c.registry = r
	}
}

// WithDecodeTimeout bounds each decode call. A timeout fails that file only.
func WithDecodeTimeout(d time.Duration) Option {
	return func(c *Converter) {
		if d > 0 {
			c.decodeTimeout = d
		}
	}
}

// WithProgress sets a callback invoked after each file.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Converter) {
		c.progress = fn
	}
}

// New creates a Converter that reads files with dec.
func New(dec Decoder, opts ...Option) *Converter {
	c := &Converter{
		decoder:       dec,
		logger:        slog.Default(),
		decodeTimeout: DefaultDecodeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "series")
	c.extractor = NewExtractor(c.logger)
	return c
}

// Convert converts every DICOM file in folder.
//
// It returns an error wrapping medcompanion.ErrNotFound when the folder is
// missing or holds no DICOM files, and one wrapping ErrAllItemsFailed when no
// file converts; in the latter case the batch is returned as well so the
// per-item report is not lost. Cancelling ctx stops the run between files.
func (c *Converter) Convert(ctx context.Context, folder string) (batch *OutputBatch, err error) {
	start := time.Now()
	defer func() {
		telemetry.RecordSeriesRun(ctx, runOutcome(err), time.Since(start))
	}()

	files, err := Discover(folder)
	if err != nil {
		return nil, err
	}

	fs, err := backend.NewFilesystem(filepath.Join(folder, OutputDirName))
	if err != nil {
		return nil, fmt.Errorf("creating output folder: %w", err)
	}
	if c.registry != nil {
		c.registry.Register(fs.Root())
	}
	out := backend.NewInstrumentedBackend(fs, "series")

	logger := c.logger.With("folder", folder)
	logger.Info("converting series", "files", len(files), "output", fs.Root())

	batch = &OutputBatch{
		OutputFolder:   fs.Root(),
		SeriesInfoFile: SeriesInfoFilename,
		Total:          len(files),
		Items:          make([]ItemResult, 0, len(files)),
	}

	var series *SeriesMetadata
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item := c.convertItem(ctx, out, i, path, len(files), &series)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if item.Status == ItemConverted {
			batch.Succeeded++
			telemetry.RecordSeriesItem(ctx, string(ItemConverted))
		} else {
			logger.Warn("skipping file", "file", item.Filename, "status", item.Status, "error", item.Err)
			telemetry.RecordSeriesItem(ctx, string(item.Status))
		}
		batch.Items = append(batch.Items, item)

		if c.progress != nil {
			c.progress(i+1, len(files))
		}
	}

	if batch.Succeeded == 0 {
		return batch, fmt.Errorf("%w: %d files in %s", ErrAllItemsFailed, len(files), folder)
	}

	batch.Series = *series
	if err := writeJSON(ctx, out, SeriesInfoFilename, series); err != nil {
		return nil, &WriteError{Path: filepath.Join(fs.Root(), SeriesInfoFilename), Err: err}
	}

	logger.Info("series converted",
		"succeeded", batch.Succeeded,
		"failed", batch.Total-batch.Succeeded,
		"duration", time.Since(start),
	)
	return batch, nil
}

func (c *Converter) convertItem(ctx context.Context, out backend.WriterBackend, index int, path string, total int, series **SeriesMetadata) ItemResult {
	item := ItemResult{Index: index, Filename: filepath.Base(path)}

	fail := func(status ItemStatus, err error) ItemResult {
		item.Status = status
		item.Err = err
		item.Reason = err.Error()
		return item
	}

	dec, err := c.decode(ctx, path)
	if err == nil && (dec == nil || dec.Pixels == nil) {
		err = errors.New("no pixel data")
	}
	if err != nil {
		return fail(ItemDecodeFailed, &DecodeError{Path: path, Err: err})
	}
	tags := dec.Tags
	if tags == nil {
		tags = Tags{}
	}

	if *series == nil {
		s := c.extractor.Series(tags, total)
		*series = &s
	}

	img, err := firstFrame(dec.Pixels)
	if err != nil {
		return fail(ItemDecodeFailed, &DecodeError{Path: path, Err: err})
	}

	imageName := fmt.Sprintf("slice-%04d.png", index)
	if err := writePNG(ctx, out, imageName, img); err != nil {
		return fail(ItemWriteFailed, &WriteError{Path: imageName, Err: err})
	}

	metaName := fmt.Sprintf("slice-%04d.json", index)
	meta := c.extractor.Slice(tags, index, item.Filename)
	if err := writeJSON(ctx, out, metaName, meta); err != nil {
		_ = out.Delete(ctx, imageName)
		return fail(ItemWriteFailed, &WriteError{Path: metaName, Err: err})
	}

	item.Status = ItemConverted
	item.Image = imageName
	item.Metadata = metaName
	return item
}

// decode runs the decoder under the decode timeout. Decoders that ignore
// ctx keep running in the background after a timeout; their result is
// dropped.
func (c *Converter) decode(ctx context.Context, path string) (*Decoded, error) {
	ctx, cancel := context.WithTimeout(ctx, c.decodeTimeout)
	defer cancel()

	type result struct {
		dec *Decoded
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("decoder panic: %v", r)}
			}
		}()
		dec, err := c.decoder.Decode(ctx, path)
		ch <- result{dec: dec, err: err}
	}()

	select {
	case r := <-ch:
		return r.dec, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("decode timed out after %s: %w", c.decodeTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func writePNG(ctx context.Context, out backend.WriterBackend, key string, img image.Image) error {
	w, err := out.Writer(ctx, key)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		if a, ok := w.(backend.Aborter); ok {
			_ = a.Abort()
		}
		return fmt.Errorf("encoding png: %w", err)
	}
	return w.Close()
}

func writeJSON(ctx context.Context, out backend.WriterBackend, key string, v any) error {
	w, err := out.Writer(ctx, key)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		if a, ok := w.(backend.Aborter); ok {
			_ = a.Abort()
		}
		return fmt.Errorf("encoding json: %w", err)
	}
	return w.Close()
}

func runOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAllItemsFailed):
		return "all_failed"
	case isNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
