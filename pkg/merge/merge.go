// Package merge folds the per-tier reads of one archive into a single
// ascending series. Retention tiers overlap near their boundaries, so the
// same timestamp can arrive from several resolutions; exactly one sample
// per timestamp survives.
package merge

import (
	"math"
	"sort"

	"github.com/nicktill/whisperflux/pkg/whisper"
)

// Merge flattens tier reads into one series sorted by timestamp, strictly
// increasing, with ties resolved toward the finest resolution (smallest
// seconds-per-point). Zero and NaN values are the arena's gap fillers and
// are dropped before tie resolution, so a gap in a fine tier falls through
// to a real value from a coarser one. The second return value counts the
// dropped gap fillers.
func Merge(tiers []whisper.TierSamples) ([]whisper.Sample, int) {
	total := 0
	for _, t := range tiers {
		total += len(t.Samples)
	}
	if total == 0 {
		return nil, 0
	}

	type tagged struct {
		whisper.Sample
		step uint32
	}

	flat := make([]tagged, 0, total)
	for _, t := range tiers {
		for _, s := range t.Samples {
			flat = append(flat, tagged{Sample: s, step: t.Tier.SecondsPerPoint})
		}
	}

	sort.Slice(flat, func(i, j int) bool {
		if flat[i].Timestamp != flat[j].Timestamp {
			return flat[i].Timestamp < flat[j].Timestamp
		}
		return flat[i].step < flat[j].step
	})

	dropped := 0
	out := make([]whisper.Sample, 0, total)
	for _, s := range flat {
		if s.Value == 0 || math.IsNaN(s.Value) {
			dropped++
			continue
		}
		if n := len(out); n > 0 && out[n-1].Timestamp == s.Timestamp {
			// A finer tier already supplied this timestamp.
			continue
		}
		out = append(out, s.Sample)
	}

	if len(out) == 0 {
		return nil, dropped
	}
	return out, dropped
}
