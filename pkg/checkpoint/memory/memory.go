package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/nicktill/whisperflux/pkg/checkpoint"
)

// Store keeps checkpoints in memory. Data is lost on exit.
// Used by tests and by simulation runs, which must not persist state.
type Store struct {
	mu      sync.RWMutex
	entries map[string]checkpoint.Entry
}

// New creates an in-memory checkpoint store
func New() *Store {
	return &Store{
		entries: make(map[string]checkpoint.Entry),
	}
}

// Get returns the entry recorded for seriesKey, or nil if none exists.
func (s *Store) Get(ctx context.Context, seriesKey string) (*checkpoint.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[seriesKey]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Put records or replaces the entry for e.SeriesKey.
func (s *Store) Put(ctx context.Context, e checkpoint.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.SeriesKey == "" {
		return errors.New("checkpoint entry has no series key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[e.SeriesKey] = e
	return nil
}

// Close is a no-op for memory storage
func (s *Store) Close() error {
	return nil
}

// Len returns the number of recorded series.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
