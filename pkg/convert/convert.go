// Package convert drives the migration pipeline: it fans discovered
// metrics out to a pool of workers, and each worker walks one metric at a
// time through path resolution, archive reading, tier merging,
// serialization and batched writing. No failure in one metric stops the
// run; the Summary is the user-visible outcome.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nicktill/whisperflux/pkg/batch"
	"github.com/nicktill/whisperflux/pkg/checkpoint"
	"github.com/nicktill/whisperflux/pkg/discover"
	"github.com/nicktill/whisperflux/pkg/identity"
	"github.com/nicktill/whisperflux/pkg/lineproto"
	"github.com/nicktill/whisperflux/pkg/merge"
	"github.com/nicktill/whisperflux/pkg/whisper"
)

// State names the stages a metric passes through during conversion.
type State string

const (
	StateDiscovered    State = "DISCOVERED"
	StatePathResolved  State = "PATH_RESOLVED"
	StateArchiveOpened State = "ARCHIVE_OPENED"
	StateSamplesRead   State = "SAMPLES_READ"
	StateMerged        State = "MERGED"
	StateSerialized    State = "SERIALIZED"

	// Terminal states. Every discovered metric ends in exactly one.
	StateWritten State = "WRITTEN"
	StateSkipped State = "SKIPPED"
	StateFailed  State = "FAILED"
)

const (
	// DefaultWorkers is the pool size when the configuration does not set one.
	DefaultWorkers = 4

	// DefaultReadTimeout bounds one metric's archive read phase. Reads
	// never run unbounded; a zero option falls back to this.
	DefaultReadTimeout = time.Minute
)

// Options configures a conversion run.
type Options struct {
	// Source yields the metrics to convert.
	Source discover.Source

	// Sink receives rendered batches. Shared by all workers.
	Sink batch.Sink

	// Checkpoints, when non-nil, lets finished metrics short-circuit on
	// the next run.
	Checkpoints checkpoint.Store

	// BasePath is the root of the archive tree.
	BasePath string

	// From and Until bound the converted window [From, Until) in unix
	// seconds. A metric whose source already holds data from an earlier
	// timestamp starts at that timestamp instead of From.
	From  int64
	Until int64

	// BatchSize caps records per submission (0 = batch.DefaultMaxRecords).
	BatchSize int

	// Precision is the timestamp wire precision (ns, us, ms or s;
	// "" = lineproto.DefaultPrecision).
	Precision string

	// Workers is the pool size (0 = DefaultWorkers).
	Workers int

	// ReadTimeout bounds one metric's archive read phase
	// (0 = DefaultReadTimeout).
	ReadTimeout time.Duration
}

// Converter runs the pipeline over every metric a source yields.
type Converter struct {
	opts     Options
	sink     batch.Sink
	progress *Progress
}

// New validates opts and builds a Converter. Option mistakes surface here,
// before any archive is touched.
func New(opts Options) (*Converter, error) {
	if opts.Source == nil {
		return nil, errors.New("converter needs a metric source")
	}
	if opts.Sink == nil {
		return nil, errors.New("converter needs a batch sink")
	}
	if opts.BasePath == "" {
		return nil, errors.New("converter needs the archive base path")
	}
	if opts.From >= opts.Until {
		return nil, fmt.Errorf("conversion window is empty: from %d >= until %d", opts.From, opts.Until)
	}
	if opts.Precision == "" {
		opts.Precision = lineproto.DefaultPrecision
	}
	if _, err := lineproto.NewSerializer(opts.Precision); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	c := &Converter{opts: opts, progress: &Progress{}}
	c.sink = &countingSink{inner: opts.Sink, progress: c.progress}
	return c, nil
}

// Progress exposes the live counters for status reporting.
func (c *Converter) Progress() *Progress {
	return c.progress
}

// Run discovers metrics and converts each one. It returns the final
// Summary and an error only when discovery itself failed (including
// cancellation); per-metric failures are counted, logged and absorbed.
func (c *Converter) Run(ctx context.Context) (Summary, error) {
	c.progress.start(time.Now())

	type workerKit struct {
		serializer *lineproto.Serializer
		writer     *batch.Writer
	}
	kits := make([]workerKit, c.opts.Workers)
	for i := range kits {
		s, err := lineproto.NewSerializer(c.opts.Precision)
		if err != nil {
			c.progress.finish(time.Now())
			return c.progress.Snapshot(), fmt.Errorf("failed to build serializer: %w", err)
		}
		kits[i] = workerKit{
			serializer: s,
			writer:     batch.NewWriter(c.sink, s, c.opts.BatchSize),
		}
	}

	targets := make(chan discover.Target, c.opts.Workers)
	var wg sync.WaitGroup
	for _, kit := range kits {
		wg.Add(1)
		go func(kit workerKit) {
			defer wg.Done()
			c.worker(ctx, kit.serializer, kit.writer, targets)
		}(kit)
	}

	discErr := c.opts.Source.Discover(ctx, func(t discover.Target) error {
		// Checked before the select: a buffered channel with free capacity
		// would otherwise race the cancellation.
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case targets <- t:
			c.progress.discovered.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	close(targets)
	wg.Wait()

	c.progress.finish(time.Now())
	summary := c.progress.Snapshot()

	if discErr != nil {
		return summary, fmt.Errorf("discovery over %s failed: %w", c.opts.Source.Name(), discErr)
	}
	return summary, nil
}

// worker converts targets until the channel drains. Once the run is
// cancelled, queued targets are dropped rather than started.
func (c *Converter) worker(ctx context.Context, s *lineproto.Serializer, w *batch.Writer, targets <-chan discover.Target) {
	for t := range targets {
		if ctx.Err() != nil {
			continue
		}
		c.convertOne(ctx, s, w, t)
	}
}

// convertOne walks one metric through the pipeline to a terminal state.
func (c *Converter) convertOne(ctx context.Context, s *lineproto.Serializer, w *batch.Writer, t discover.Target) {
	ref := t.Ref
	st := StateDiscovered

	from := c.opts.From
	if t.EarliestTS > from {
		from = t.EarliestTS
	}
	until := c.opts.Until
	if from >= until {
		c.finishSkipped(ref, "window is empty")
		return
	}

	if c.opts.Checkpoints != nil {
		entry, err := c.opts.Checkpoints.Get(ctx, ref.SeriesKey())
		if err != nil {
			log.Printf("⚠️  checkpoint lookup for %s: %v", ref, err)
		} else if entry != nil && entry.State == string(StateWritten) && entry.Covers(from, until) {
			c.finishSkipped(ref, "already converted")
			return
		}
	}

	path, err := identity.ArchivePath(c.opts.BasePath, ref)
	if err != nil {
		c.finishSkipped(ref, fmt.Sprintf("cannot resolve archive path: %v", err))
		return
	}
	st = StatePathResolved

	rctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
	defer cancel()

	archive, err := whisper.Open(path)
	if err != nil {
		var corrupt *whisper.CorruptError
		switch {
		case errors.Is(err, whisper.ErrNotFound):
			c.finishSkipped(ref, fmt.Sprintf("archive missing: %s", path))
		case errors.As(err, &corrupt):
			c.finishSkipped(ref, fmt.Sprintf("corrupt archive: %v", err))
		default:
			c.finishFailed(ref, st, err)
		}
		return
	}
	st = StateArchiveOpened

	tiers, err := archive.ReadWindow(rctx, from, until)
	archive.Close()
	if err != nil {
		c.finishFailed(ref, st, err)
		return
	}
	st = StateSamplesRead

	samples, dropped := merge.Merge(tiers)
	if dropped > 0 {
		c.progress.samplesDropped.Add(int64(dropped))
	}
	st = StateMerged
	if len(samples) == 0 {
		c.finishSkipped(ref, "no samples in window")
		return
	}

	w.Begin(ref)
	written := 0
	for _, sample := range samples {
		rec, err := s.Serialize(ref, sample)
		if err != nil {
			if errors.Is(err, lineproto.ErrNonFinite) {
				c.progress.samplesDropped.Add(1)
				log.Printf("⚠️  dropping sample: %v", err)
				continue
			}
			c.finishFailed(ref, st, err)
			return
		}
		if err := w.Add(ctx, rec); err != nil {
			c.finishFailed(ref, StateSerialized, err)
			return
		}
		written++
	}
	st = StateSerialized
	if written == 0 {
		c.finishSkipped(ref, "no representable samples in window")
		return
	}

	if err := w.Flush(ctx); err != nil {
		c.finishFailed(ref, st, err)
		return
	}

	c.finishWritten(ctx, ref, from, until, written)
}

func (c *Converter) finishSkipped(ref identity.MetricRef, reason string) {
	c.progress.skipped.Add(1)
	log.Printf("⏭️  skipped %s: %s", ref, reason)
}

func (c *Converter) finishFailed(ref identity.MetricRef, st State, err error) {
	c.progress.failed.Add(1)
	log.Printf("❌ %s failed at %s: %v", ref, st, err)
}

func (c *Converter) finishWritten(ctx context.Context, ref identity.MetricRef, from, until int64, samples int) {
	c.progress.written.Add(1)
	log.Printf("✅ %s: %d samples", ref, samples)

	if c.opts.Checkpoints == nil {
		return
	}
	entry := checkpoint.Entry{
		SeriesKey:   ref.SeriesKey(),
		State:       string(StateWritten),
		From:        from,
		Until:       until,
		Samples:     samples,
		CompletedAt: time.Now().UTC(),
	}
	if err := c.opts.Checkpoints.Put(ctx, entry); err != nil {
		log.Printf("⚠️  failed to checkpoint %s: %v", ref, err)
	}
}

// countingSink counts successful submissions on behalf of whatever sink
// the run writes to.
type countingSink struct {
	inner    batch.Sink
	progress *Progress
}

func (s *countingSink) Submit(ctx context.Context, ref identity.MetricRef, body []byte, count int) error {
	if err := s.inner.Submit(ctx, ref, body, count); err != nil {
		return err
	}
	if count > 0 {
		s.progress.batches.Add(1)
		s.progress.samplesWritten.Add(int64(count))
	}
	return nil
}

func (s *countingSink) Close() error {
	return s.inner.Close()
}
