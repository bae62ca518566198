package runlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	medcompanion "github.com/pnavin9/MedCompanion"
	"go.etcd.io/bbolt"
)

var (
	bucketRuns      = []byte("runs")        // id -> framed JSON Run
	bucketRunsByAge = []byte("runs_by_age") // timestamp|id -> id
)

// Store persists runs. It is safe for concurrent use.
type Store struct {
	db     *bbolt.DB
	codec  *codec
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithNoSync disables fsync per transaction. Tests only.
func WithNoSync(noSync bool) Option {
	return func(s *Store) {
		s.noSync = noSync
	}
}

// Open opens or creates the run database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "runlog")

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketRunsByAge} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	c, err := newCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.codec = c

	s.logger.Debug("opened run log", "path", path)
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.codec != nil {
		s.codec.Close()
		s.codec = nil
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores run. A missing ID is filled with a time-ordered UUID and a
// zero StartedAt with the current time. Storing an existing ID replaces it.
func (s *Store) Put(_ context.Context, run *Run) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating run id: %w", err)
		}
		run.ID = id.String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	record, err := s.codec.encode(data)
	if err != nil {
		return fmt.Errorf("framing run: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		byAge := tx.Bucket(bucketRunsByAge)
		id := []byte(run.ID)

		if old := runs.Get(id); old != nil {
			prev, err := s.decodeRun(old)
			if err == nil {
				if err := byAge.Delete(ageKey(prev.StartedAt, prev.ID)); err != nil {
					return fmt.Errorf("removing age index: %w", err)
				}
			}
		}
		if err := runs.Put(id, record); err != nil {
			return fmt.Errorf("putting run: %w", err)
		}
		if err := byAge.Put(ageKey(run.StartedAt, run.ID), id); err != nil {
			return fmt.Errorf("putting age index: %w", err)
		}
		return nil
	})
}

// Get returns the run with id.
func (s *Store) Get(_ context.Context, id string) (*Run, error) {
	var run *Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketRuns).Get([]byte(id))
		if val == nil {
			return fmt.Errorf("run %s: %w", id, medcompanion.ErrNotFound)
		}
		var err error
		run, err = s.decodeRun(val)
		return err
	})
	return run, err
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns all runs. Records that fail to decode are logged and skipped.
func (s *Store) List(_ context.Context, limit int) ([]*Run, error) {
	var runs []*Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		c := tx.Bucket(bucketRunsByAge).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			val := bucket.Get(id)
			if val == nil {
				continue
			}
			run, err := s.decodeRun(val)
			if err != nil {
				s.logger.Warn("skipping unreadable run", "id", string(id), "error", err)
				continue
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, err
}

// Delete removes the run with id. Missing runs are not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.deleteTx(tx, []byte(id))
	})
}

// Prune deletes runs that started before cutoff and returns how many were
// removed.
func (s *Store) Prune(_ context.Context, cutoff time.Time) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		end := encodeTimestamp(cutoff)
		byAge := tx.Bucket(bucketRunsByAge)
		c := byAge.Cursor()
		var keys, ids [][]byte
		for k, id := c.First(); k != nil && bytes.Compare(k[:8], end) < 0; k, id = c.Next() {
			keys = append(keys, bytes.Clone(k))
			ids = append(ids, bytes.Clone(id))
		}
		for i, id := range ids {
			if err := s.deleteTx(tx, id); err != nil {
				return err
			}
			// Index entries of undecodable runs are not found by deleteTx.
			if err := byAge.Delete(keys[i]); err != nil {
				return fmt.Errorf("removing age index: %w", err)
			}
			removed++
		}
		return nil
	})
	if removed > 0 {
		s.logger.Info("pruned runs", "count", removed, "cutoff", cutoff)
	}
	return removed, err
}

func (s *Store) deleteTx(tx *bbolt.Tx, id []byte) error {
	runs := tx.Bucket(bucketRuns)
	val := runs.Get(id)
	if val == nil {
		return nil
	}
	if run, err := s.decodeRun(val); err == nil {
		if err := tx.Bucket(bucketRunsByAge).Delete(ageKey(run.StartedAt, run.ID)); err != nil {
			return fmt.Errorf("removing age index: %w", err)
		}
	}
	if err := runs.Delete(id); err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	return nil
}

func (s *Store) decodeRun(record []byte) (*Run, error) {
	data, err := s.codec.decode(record)
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run: %w", err)
	}
	return &run, nil
}

// encodeTimestamp converts t to a fixed-width big-endian key that sorts in
// time order, pre-1970 included.
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano())^(1<<63))
	return buf
}

func ageKey(t time.Time, id string) []byte {
	return append(encodeTimestamp(t), id...)
}
