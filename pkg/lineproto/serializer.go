// Package lineproto renders converted samples as InfluxDB line protocol.
// One sample becomes one line: the metric name is the measurement, the
// entity identity rides as tags, and the raw value lands in the single
// field "value".
package lineproto

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/nicktill/whisperflux/pkg/identity"
	"github.com/nicktill/whisperflux/pkg/whisper"
)

// ErrNonFinite reports a sample value with no line protocol rendering
// (NaN or infinity). The sample is dropped; the metric continues.
var ErrNonFinite = errors.New("non-finite sample value")

// precisions maps the wire names accepted in configuration to encoder
// precisions.
var precisions = map[string]lineprotocol.Precision{
	lineprotocol.Nanosecond.String():  lineprotocol.Nanosecond,
	lineprotocol.Microsecond.String(): lineprotocol.Microsecond,
	lineprotocol.Millisecond.String(): lineprotocol.Millisecond,
	lineprotocol.Second.String():      lineprotocol.Second,
}

// DefaultPrecision is the timestamp precision used when the configuration
// does not name one. The archives store seconds, so seconds is lossless.
const DefaultPrecision = "s"

// Record is one output point, built per sample and consumed exactly once
// by the batch writer.
type Record struct {
	Measurement  string
	Host         string
	Service      string
	CheckCommand string
	Value        float64
	Timestamp    int64 // seconds epoch
}

// Serializer turns MetricRef samples into Records and renders Records as
// line protocol at a fixed timestamp precision. Not safe for concurrent
// use: every worker owns its own Serializer.
type Serializer struct {
	precision lineprotocol.Precision
	enc       lineprotocol.Encoder
}

// NewSerializer builds a serializer for the given precision wire name
// (ns, us, ms or s).
func NewSerializer(precision string) (*Serializer, error) {
	p, ok := precisions[precision]
	if !ok {
		return nil, fmt.Errorf("unsupported timestamp precision %q (expected ns, us, ms or s)", precision)
	}

	s := &Serializer{precision: p}
	// Tag keys are fixed and emitted in the live perfdata writer's order
	// (host, service, check_command), which is not lexical; lax mode
	// drops the ordering check, escaping is unaffected.
	s.enc.SetLax(true)
	s.enc.SetPrecision(p)
	return s, nil
}

// Precision returns the wire name of the serializer's precision.
func (s *Serializer) Precision() string {
	return s.precision.String()
}

// Serialize builds the Record for one sample of one ref. Values without a
// line protocol rendering return ErrNonFinite.
func (s *Serializer) Serialize(ref identity.MetricRef, sample whisper.Sample) (Record, error) {
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return Record{}, fmt.Errorf("%s at %d: %w", ref.SeriesKey(), sample.Timestamp, ErrNonFinite)
	}

	return Record{
		Measurement:  ref.Metric,
		Host:         ref.Host,
		Service:      ref.Service,
		CheckCommand: ref.CheckCommand,
		Value:        sample.Value,
		Timestamp:    sample.Timestamp,
	}, nil
}

// Append encodes rec and appends the newline-terminated line to dst.
func (s *Serializer) Append(dst []byte, rec Record) ([]byte, error) {
	line, err := s.encode(rec)
	if err != nil {
		return dst, err
	}
	dst = append(dst, line...)
	if n := len(dst); n == 0 || dst[n-1] != '\n' {
		dst = append(dst, '\n')
	}
	return dst, nil
}

// Line renders rec as a single line without the trailing newline, for
// simulation output and verbose logging.
func (s *Serializer) Line(rec Record) (string, error) {
	line, err := s.encode(rec)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(line), "\n"), nil
}

func (s *Serializer) encode(rec Record) ([]byte, error) {
	v, ok := lineprotocol.NewValue(rec.Value)
	if !ok {
		return nil, fmt.Errorf("%s value %v: %w", rec.Measurement, rec.Value, ErrNonFinite)
	}

	e := &s.enc
	e.Reset()
	e.ClearErr()
	e.StartLine(rec.Measurement)
	e.AddTag("host", rec.Host)
	e.AddTag("service", rec.Service)
	e.AddTag("check_command", rec.CheckCommand)
	e.AddField("value", v)
	e.EndLine(time.Unix(rec.Timestamp, 0).UTC())

	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", rec.Measurement, err)
	}
	return e.Bytes(), nil
}
