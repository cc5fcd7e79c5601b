// Package whisper reads the fixed-layout round-robin archive files the
// graphite perfdata pipeline writes (value.wsp). A file holds a small
// header, a tier table, and one circular arena of points per tier. All
// integers are big-endian.
//
// File layout:
//
//	header:  aggregation u32 | max retention u32 | xfiles factor f32 | tier count u32
//	tier:    arena offset u32 | seconds per point u32 | points u32      (x tier count)
//	arena:   interval u32 | value f64                                   (x points, circular)
//
// A slot is live only when its stored interval matches the interval the
// slot would hold for the queried range; interval 0 marks a slot that was
// never written.
package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"time"
)

const (
	headerSize = 16
	tierSize   = 12
	pointSize  = 12

	// maxTiers bounds the tier table so a corrupt count cannot make Open
	// allocate or scan unbounded memory.
	maxTiers = 1024
)

// ErrNotFound reports a value.wsp path with no archive behind it. Callers
// treat it as a skippable condition, not a failure.
var ErrNotFound = errors.New("whisper archive not found")

// CorruptError reports an archive whose header, tier table, or arena does
// not hold together. The reader never guesses at partial structure.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt whisper archive %s: %s", e.Path, e.Reason)
}

// Header carries the archive-wide metadata fields.
type Header struct {
	Aggregation  uint32
	MaxRetention uint32
	XFilesFactor float32
}

// AggregationName returns the archive's configured aggregation method.
func (h Header) AggregationName() string {
	switch h.Aggregation {
	case 1:
		return "average"
	case 2:
		return "sum"
	case 3:
		return "last"
	case 4:
		return "max"
	case 5:
		return "min"
	case 6:
		return "avg_zero"
	case 7:
		return "absmax"
	case 8:
		return "absmin"
	default:
		return fmt.Sprintf("unknown(%d)", h.Aggregation)
	}
}

// Tier describes one retention tier: where its arena starts, how wide a
// slot is in seconds, and how many slots the arena holds.
type Tier struct {
	Offset          uint32
	SecondsPerPoint uint32
	Points          uint32
}

// Retention is the tier's nominal coverage in seconds. The tier holds data
// for [now-Retention, now].
func (t Tier) Retention() uint32 {
	return t.SecondsPerPoint * t.Points
}

func (t Tier) String() string {
	return fmt.Sprintf("%ds:%d", t.SecondsPerPoint, t.Points)
}

// Sample is one stored point: seconds epoch timestamp and raw value.
type Sample struct {
	Timestamp int64
	Value     float64
}

// TierSamples pairs a tier with the samples read from it for one window.
type TierSamples struct {
	Tier    Tier
	Samples []Sample
}

// Archive is an open value.wsp file with a parsed header and tier table.
// Callers scope Open..Close tightly around the read of one metric.
type Archive struct {
	path  string
	f     *os.File
	hdr   Header
	tiers []Tier

	// now is swapped out by tests so windows land on known slots.
	now func() time.Time
}

// Open opens and validates an archive. A missing path wraps ErrNotFound; a
// file that does not parse as a whisper archive returns *CorruptError.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}

	a, err := parse(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func parse(path string, f *os.File) (*Archive, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	size := fi.Size()

	var hbuf [headerSize]byte
	if _, err := io.ReadFull(f, hbuf[:]); err != nil {
		return nil, &CorruptError{Path: path, Reason: "truncated header"}
	}

	hdr := Header{
		Aggregation:  binary.BigEndian.Uint32(hbuf[0:4]),
		MaxRetention: binary.BigEndian.Uint32(hbuf[4:8]),
		XFilesFactor: math.Float32frombits(binary.BigEndian.Uint32(hbuf[8:12])),
	}
	tierCount := binary.BigEndian.Uint32(hbuf[12:16])

	if tierCount == 0 {
		return nil, &CorruptError{Path: path, Reason: "archive declares zero tiers"}
	}
	if tierCount > maxTiers {
		return nil, &CorruptError{Path: path, Reason: fmt.Sprintf("archive declares %d tiers", tierCount)}
	}

	tbuf := make([]byte, int(tierCount)*tierSize)
	if _, err := io.ReadFull(f, tbuf); err != nil {
		return nil, &CorruptError{Path: path, Reason: "truncated tier table"}
	}

	tableEnd := int64(headerSize) + int64(tierCount)*tierSize
	tiers := make([]Tier, tierCount)
	for i := range tiers {
		off := i * tierSize
		tiers[i] = Tier{
			Offset:          binary.BigEndian.Uint32(tbuf[off : off+4]),
			SecondsPerPoint: binary.BigEndian.Uint32(tbuf[off+4 : off+8]),
			Points:          binary.BigEndian.Uint32(tbuf[off+8 : off+12]),
		}

		t := tiers[i]
		if t.SecondsPerPoint == 0 || t.Points == 0 {
			return nil, &CorruptError{Path: path, Reason: fmt.Sprintf("tier %d has zero step or zero points", i)}
		}
		arenaEnd := int64(t.Offset) + int64(t.Points)*pointSize
		if int64(t.Offset) < tableEnd || arenaEnd > size {
			return nil, &CorruptError{Path: path, Reason: fmt.Sprintf("tier %d arena [%d,%d) outside file of %d bytes", i, t.Offset, arenaEnd, size)}
		}
	}

	return &Archive{
		path:  path,
		f:     f,
		hdr:   hdr,
		tiers: tiers,
		now:   time.Now,
	}, nil
}

// Header returns the parsed archive metadata.
func (a *Archive) Header() Header {
	return a.hdr
}

// Tiers returns a copy of the tier table in file order.
func (a *Archive) Tiers() []Tier {
	out := make([]Tier, len(a.tiers))
	copy(out, a.tiers)
	return out
}

// Path returns the archive's filesystem path.
func (a *Archive) Path() string {
	return a.path
}

// Close releases the file handle.
func (a *Archive) Close() error {
	return a.f.Close()
}

// ReadWindow reads every stored point in [from, until) from every tier
// whose coverage intersects the window. Tiers appear in file order; slots
// outside the tier's current cycle are dropped by the interval check, so
// stale circular-buffer data never surfaces. The context is checked between
// tiers.
func (a *Archive) ReadWindow(ctx context.Context, from, until int64) ([]TierSamples, error) {
	now := a.now().Unix()
	if until > now {
		// Never read the slot the live writer may still be filling.
		until = now
	}
	oldest := now - int64(a.hdr.MaxRetention)
	if from < oldest {
		from = oldest
	}
	if from >= until {
		return nil, nil
	}

	out := make([]TierSamples, 0, len(a.tiers))
	for _, tier := range a.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tierFrom := from
		if floor := now - int64(tier.Retention()); tierFrom < floor {
			tierFrom = floor
		}
		if tierFrom >= until {
			continue
		}

		samples, err := a.readTier(tier, tierFrom, until)
		if err != nil {
			return nil, err
		}
		out = append(out, TierSamples{Tier: tier, Samples: samples})
	}
	return out, nil
}

// readTier reads the stored points of one tier inside [from, until). The
// arena is circular, so the read happens in at most two contiguous
// segments; each slot's stored interval must equal the interval expected
// for its position or the slot is skipped.
func (a *Archive) readTier(t Tier, from, until int64) ([]Sample, error) {
	step := int64(t.SecondsPerPoint)
	points := int64(t.Points)

	var first [pointSize]byte
	if _, err := a.f.ReadAt(first[:], int64(t.Offset)); err != nil {
		return nil, &CorruptError{Path: a.path, Reason: fmt.Sprintf("tier %s base point unreadable: %v", t, err)}
	}
	baseInterval := int64(binary.BigEndian.Uint32(first[0:4]))
	if baseInterval == 0 {
		// Arena never written.
		return nil, nil
	}

	fromInterval := quantizeUp(from, step)
	untilInterval := quantizeUp(until, step)
	slots := (untilInterval - fromInterval) / step
	if slots <= 0 {
		return nil, nil
	}
	if slots > points {
		slots = points
	}

	idx := ((fromInterval - baseInterval) / step) % points
	if idx < 0 {
		idx += points
	}

	// First segment: from the slot index to the arena end (or the full
	// request if it fits); second segment wraps to the arena start.
	firstLen := slots
	if max := points - idx; firstLen > max {
		firstLen = max
	}

	buf := make([]byte, slots*pointSize)
	if _, err := a.f.ReadAt(buf[:firstLen*pointSize], int64(t.Offset)+idx*pointSize); err != nil {
		return nil, &CorruptError{Path: a.path, Reason: fmt.Sprintf("tier %s arena read failed: %v", t, err)}
	}
	if rest := slots - firstLen; rest > 0 {
		if _, err := a.f.ReadAt(buf[firstLen*pointSize:], int64(t.Offset)); err != nil {
			return nil, &CorruptError{Path: a.path, Reason: fmt.Sprintf("tier %s arena wrap read failed: %v", t, err)}
		}
	}

	samples := make([]Sample, 0, slots)
	for j := int64(0); j < slots; j++ {
		p := buf[j*pointSize : (j+1)*pointSize]
		interval := int64(binary.BigEndian.Uint32(p[0:4]))
		expected := fromInterval + j*step
		if interval != expected {
			// Empty slot or a leftover from an earlier cycle.
			continue
		}
		value := math.Float64frombits(binary.BigEndian.Uint64(p[4:12]))
		samples = append(samples, Sample{Timestamp: expected, Value: value})
	}
	return samples, nil
}

// quantizeUp rounds ts up to the next multiple of step, leaving exact
// multiples alone. Keeping both window bounds on slot boundaries makes the
// window closed at from and open at until.
func quantizeUp(ts, step int64) int64 {
	rem := ts % step
	if rem == 0 {
		return ts
	}
	if rem < 0 {
		return ts - rem
	}
	return ts + step - rem
}
