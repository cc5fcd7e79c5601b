// Package batch groups rendered records into bounded submissions over a
// Sink. The conversion pipeline flushes at every metric boundary, so a
// submission never mixes metrics and a rejected batch maps to exactly one
// failed metric.
package batch

import (
	"context"
	"fmt"

	"github.com/nicktill/whisperflux/pkg/identity"
	"github.com/nicktill/whisperflux/pkg/lineproto"
)

// DefaultMaxRecords bounds a batch when the configuration does not.
const DefaultMaxRecords = 5000

// Sink consumes rendered batches. Implementations serialize their own
// access; all workers share one sink.
type Sink interface {
	// Submit delivers one batch of newline-terminated lines, all
	// belonging to ref. count is the number of lines in body.
	Submit(ctx context.Context, ref identity.MetricRef, body []byte, count int) error

	// Close releases whatever the sink holds. No Submit may follow.
	Close() error
}

// WriteError reports a rejected batch: which metric, how many records were
// lost, and why.
type WriteError struct {
	Ref     identity.MetricRef
	Records int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write batch of %d records for %s: %v", e.Records, e.Ref, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer accumulates records for the metric currently being converted and
// submits them once the batch limit is reached. Each worker owns one
// Writer; it is not safe for concurrent use.
type Writer struct {
	sink       Sink
	serializer *lineproto.Serializer
	maxRecords int

	ref     identity.MetricRef
	body    []byte
	pending int
}

// NewWriter builds a writer submitting batches of at most maxRecords.
func NewWriter(sink Sink, serializer *lineproto.Serializer, maxRecords int) *Writer {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Writer{
		sink:       sink,
		serializer: serializer,
		maxRecords: maxRecords,
	}
}

// Begin starts a new metric. The caller flushed (or deliberately
// abandoned) the previous one.
func (w *Writer) Begin(ref identity.MetricRef) {
	w.ref = ref
	w.body = w.body[:0]
	w.pending = 0
}

// Add renders rec into the running batch and submits when the batch is
// full. A full-batch submission failure surfaces as *WriteError.
func (w *Writer) Add(ctx context.Context, rec lineproto.Record) error {
	body, err := w.serializer.Append(w.body, rec)
	if err != nil {
		return err
	}
	w.body = body
	w.pending++

	if w.pending >= w.maxRecords {
		return w.Flush(ctx)
	}
	return nil
}

// Flush submits the pending records, if any. The batch is spent either
// way: a rejected batch is lost, reported as *WriteError, and the writer
// is ready for the next records.
func (w *Writer) Flush(ctx context.Context) error {
	if w.pending == 0 {
		return nil
	}

	body, count := w.body, w.pending
	err := w.sink.Submit(ctx, w.ref, body, count)
	w.body = w.body[:0]
	w.pending = 0

	if err != nil {
		return &WriteError{Ref: w.ref, Records: count, Err: err}
	}
	return nil
}

// Pending returns the number of buffered records.
func (w *Writer) Pending() int {
	return w.pending
}
