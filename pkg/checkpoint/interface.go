package checkpoint

import (
	"context"
	"time"
)

// Entry records the outcome of converting one series.
type Entry struct {
	// SeriesKey is the canonical series identity the entry belongs to.
	// The persistent backends key on a hash of it, so the full string is
	// stored here to make collisions detectable.
	SeriesKey string `json:"series_key"`

	// State is the terminal pipeline state, normally "WRITTEN".
	State string `json:"state"`

	// From and Until are the unix-second bounds of the converted window.
	From  int64 `json:"from"`
	Until int64 `json:"until"`

	// Samples is the number of points written for the series.
	Samples int `json:"samples"`

	// CompletedAt is when the series finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Covers reports whether the recorded window fully contains [from, until).
// A run only skips a series when an earlier run already covered everything
// the current window asks for.
func (e Entry) Covers(from, until int64) bool {
	return e.From <= from && e.Until >= until
}

// Store defines the interface for checkpoint backends.
// Implementations: memory (testing, simulation), badger (resumable runs)
type Store interface {
	// Get returns the entry recorded for seriesKey, or nil if none exists
	Get(ctx context.Context, seriesKey string) (*Entry, error)

	// Put records or replaces the entry for e.SeriesKey
	Put(ctx context.Context, e Entry) error

	// Close cleanly shuts down the store
	Close() error
}
