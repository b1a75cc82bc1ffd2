// Package weight turns noisy raw scale readings into discrete, settled
// weight deltas. The tracker owns the baseline exclusively; it is mutated
// only on the correlator's consumer goroutine and never shared.
package weight

import (
	"math"
	"time"

	"github.com/smartkart/kart/internal/event"
)

// DefaultAlpha is the smoothing factor for the exponential moving average
// over in-band samples. Higher values follow the scale faster; lower
// values reject more jitter.
const DefaultAlpha = 0.5

// Tracker maintains an exponentially smoothed baseline and emits one
// WeightDelta per settle-to-settle transition whose net change meets the
// threshold.
//
// A reading run is "settled" once settleSamples consecutive samples fall
// within the jitter band of their predecessor. The smoother restarts
// whenever a sample breaks the band, so the settled value reflects only
// the stable run, not the bounce that preceded it. Bouncing before
// settling emits nothing; only the net change across a full transition is
// reported. Sub-threshold changes are absorbed silently into the
// baseline.
type Tracker struct {
	threshold     float64 // minimum |delta| in grams to report
	jitter        float64 // in-band tolerance between consecutive samples
	settleSamples int     // consecutive in-band samples required to settle
	alpha         float64

	baseline float64 // last settled weight
	smoothed float64 // EWMA over the current in-band run
	prev     float64 // previous raw sample
	run      int     // consecutive in-band samples
	settled  bool
}

// NewTracker creates a tracker. The jitter band defaults to half the
// threshold; settleSamples below 2 is clamped to 2 so a single outlier
// can never settle the scale.
func NewTracker(thresholdGrams float64, settleSamples int) *Tracker {
	if settleSamples < 2 {
		settleSamples = 2
	}
	return &Tracker{
		threshold:     thresholdGrams,
		jitter:        thresholdGrams / 2,
		settleSamples: settleSamples,
		alpha:         DefaultAlpha,
	}
}

// Observe feeds one raw sample. It returns a WeightDelta when the scale
// has just settled at a value differing from the previous baseline by at
// least the threshold, and nil otherwise.
func (t *Tracker) Observe(grams float64, at time.Time) *event.WeightDelta {
	if t.run > 0 && math.Abs(grams-t.prev) <= t.jitter {
		t.run++
		t.smoothed = t.alpha*grams + (1-t.alpha)*t.smoothed
	} else {
		// Out of band: restart the run and the smoother.
		t.run = 1
		t.smoothed = grams
		t.settled = false
	}
	t.prev = grams

	if t.run < t.settleSamples {
		return nil
	}

	// Settled. Act only on the transition into the settled state so a
	// long stable period emits at most one delta.
	if t.settled {
		return nil
	}
	t.settled = true

	delta := t.smoothed - t.baseline
	if math.Abs(delta) < t.threshold {
		// Noise or slow creep below the reporting floor: fold it into
		// the baseline without emitting.
		t.baseline = t.smoothed
		return nil
	}

	t.baseline = t.smoothed
	return &event.WeightDelta{Grams: delta, At: at}
}

// Tare re-zeroes the baseline and discards any in-progress settle run.
func (t *Tracker) Tare() {
	t.baseline = 0
	t.smoothed = 0
	t.prev = 0
	t.run = 0
	t.settled = false
}

// Baseline returns the last settled weight in grams.
func (t *Tracker) Baseline() float64 {
	return t.baseline
}

// Settled reports whether the scale is currently in a settled run.
func (t *Tracker) Settled() bool {
	return t.settled
}
