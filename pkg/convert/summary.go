package convert

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Summary is a point-in-time view of run progress, and the final outcome
// returned by Run. Counters hold metric counts except where named samples
// or batches.
type Summary struct {
	Discovered     int64     `json:"discovered"`
	Written        int64     `json:"written"`
	Skipped        int64     `json:"skipped"`
	Failed         int64     `json:"failed"`
	SamplesWritten int64     `json:"samples_written"`
	SamplesDropped int64     `json:"samples_dropped"`
	Batches        int64     `json:"batches"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Done           bool      `json:"done"`
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"discovered=%d written=%d skipped=%d failed=%d samples=%d dropped=%d batches=%d elapsed=%.1fs",
		s.Discovered, s.Written, s.Skipped, s.Failed,
		s.SamplesWritten, s.SamplesDropped, s.Batches, s.ElapsedSeconds,
	)
}

// Progress holds the live run counters. Workers update it atomically and
// the status server snapshots it while the run is still going.
type Progress struct {
	discovered     atomic.Int64
	written        atomic.Int64
	skipped        atomic.Int64
	failed         atomic.Int64
	samplesWritten atomic.Int64
	samplesDropped atomic.Int64
	batches        atomic.Int64

	startedNanos  atomic.Int64
	finishedNanos atomic.Int64
}

func (p *Progress) start(t time.Time) {
	p.startedNanos.CompareAndSwap(0, t.UnixNano())
}

func (p *Progress) finish(t time.Time) {
	p.finishedNanos.CompareAndSwap(0, t.UnixNano())
}

// Snapshot copies the counters for reporting. Each counter is read
// individually, so totals can trail an in-flight metric by one; that is
// fine for progress display.
func (p *Progress) Snapshot() Summary {
	s := Summary{
		Discovered:     p.discovered.Load(),
		Written:        p.written.Load(),
		Skipped:        p.skipped.Load(),
		Failed:         p.failed.Load(),
		SamplesWritten: p.samplesWritten.Load(),
		SamplesDropped: p.samplesDropped.Load(),
		Batches:        p.batches.Load(),
	}

	started := p.startedNanos.Load()
	if started == 0 {
		return s
	}
	s.StartedAt = time.Unix(0, started).UTC()

	if finished := p.finishedNanos.Load(); finished != 0 {
		s.Done = true
		s.ElapsedSeconds = time.Duration(finished - started).Seconds()
	} else {
		s.ElapsedSeconds = time.Since(s.StartedAt).Seconds()
	}
	return s
}
