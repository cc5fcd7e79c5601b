package batch

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/whisperflux/pkg/identity"
	"github.com/nicktill/whisperflux/pkg/influx"
)

// InfluxSink posts batches to the target database's bulk write endpoint.
// A mutex keeps one submission in flight at a time.
type InfluxSink struct {
	mu        sync.Mutex
	client    *influx.Client
	db        string
	precision string
}

// NewInfluxSink writes to db with timestamps in the given precision
// (which must match the precision the records were rendered with).
func NewInfluxSink(client *influx.Client, db, precision string) *InfluxSink {
	return &InfluxSink{client: client, db: db, precision: precision}
}

// Submit posts one batch.
func (s *InfluxSink) Submit(ctx context.Context, ref identity.MetricRef, body []byte, count int) error {
	if count == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.WriteLP(ctx, s.db, s.precision, body)
}

// Close is a no-op; the HTTP client holds no batch state.
func (s *InfluxSink) Close() error {
	return nil
}

// SimulationSink renders what a live run would write without touching the
// network. Every line lands in the run log; Verbose mirrors them to
// stdout as well.
type SimulationSink struct {
	mu      sync.Mutex
	Verbose bool
}

// Submit logs each line of the batch.
func (s *SimulationSink) Submit(ctx context.Context, ref identity.MetricRef, body []byte, count int) error {
	if count == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range bytes.Split(bytes.TrimRight(body, "\n"), []byte{'\n'}) {
		log.Printf("simulated write: %s", line)
		if s.Verbose {
			fmt.Println(string(line))
		}
	}
	return nil
}

// Close is a no-op.
func (s *SimulationSink) Close() error {
	return nil
}

// FileSink streams every batch into a single gzip-compressed line
// protocol file suitable for offline import. Creation is exclusive: an
// existing output file aborts the run instead of silently appending to or
// clobbering an earlier export.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	gz   *gzip.Writer
}

// NewFileSink creates path and prepares the compressed stream.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &FileSink{path: path, f: f, gz: gzip.NewWriter(f)}, nil
}

// Submit appends the batch to the compressed stream.
func (s *FileSink) Submit(ctx context.Context, ref identity.MetricRef, body []byte, count int) error {
	if count == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.gz.Write(body); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return nil
}

// Close finishes the gzip stream and the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.gz.Close(); err != nil {
		s.f.Close()
		return fmt.Errorf("failed to finish %s: %w", s.path, err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return nil
}
