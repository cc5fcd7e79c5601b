package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/whisperflux/pkg/checkpoint"
)

// Store implements checkpoint.Store using BadgerDB (LSM tree)
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool
}

// New opens a BadgerDB checkpoint store
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// SAFETY: Conservative memory limits. The checkpoint database holds one
	// small JSON record per series, so the BadgerDB defaults (multiple 64 MB
	// memtables, 2 GB value log files) are wildly oversized for it.
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(8 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(4 << 20).
		WithIndexCacheSize(2 << 20).
		WithMaxLevels(3).
		WithNumCompactors(1).
		WithValueThreshold(1024).
		WithValueLogFileSize(16 << 20).
		WithLogger(nil) // keep BadgerDB's own chatter out of the run log

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the entry recorded for seriesKey, or nil if none exists.
func (s *Store) Get(ctx context.Context, seriesKey string) (*checkpoint.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *checkpoint.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(seriesKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var e checkpoint.Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("failed to decode checkpoint: %w", err)
			}

			// Keys are 64-bit hashes. If the stored series differs from the
			// requested one we hit a hash collision: treat it as a miss so
			// the series gets converted rather than silently skipped.
			if e.SeriesKey != seriesKey {
				return nil
			}

			entry = &e
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	return entry, nil
}

// Put records or replaces the entry for e.SeriesKey.
func (s *Store) Put(ctx context.Context, e checkpoint.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.SeriesKey == "" {
		return errors.New("checkpoint entry has no series key")
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(e.SeriesKey), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	return nil
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	// One value log GC pass per run keeps the store compact across many
	// resumed runs. ErrNoRewrite (nothing to reclaim) and in-memory mode
	// are expected here.
	_ = s.db.RunValueLogGC(0.5)
	return s.db.Close()
}

// makeKey hashes the series key into the fixed-width database key.
// Format: [series_hash (8 bytes)]
func makeKey(seriesKey string) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, xxhash.Sum64String(seriesKey))
	return key
}
