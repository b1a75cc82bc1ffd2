package event

import (
	"fmt"
	"time"
)

// Kind distinguishes sensor event variants.
type Kind int

const (
	// KindWeightSample is a raw scale reading in grams. Samples feed the
	// weight tracker; they do not reach the matching logic directly.
	KindWeightSample Kind = iota + 1
	// KindWeightDelta is a settled weight change. Positive magnitude means
	// an item was placed, negative means one was taken out.
	KindWeightDelta
	// KindScan is a product code read from a barcode or RFID source.
	KindScan
	// KindTick drives housekeeping (scan expiry, drift checks). Ticks are
	// ordinary events so housekeeping interleaves with event handling and
	// never runs concurrently with it.
	KindTick
	// KindTare re-zeroes the weight baseline.
	KindTare
)

// String returns the kind name for logs and traces.
func (k Kind) String() string {
	switch k {
	case KindWeightSample:
		return "weight_sample"
	case KindWeightDelta:
		return "weight_delta"
	case KindScan:
		return "scan"
	case KindTick:
		return "tick"
	case KindTare:
		return "tare"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ScanSource identifies the hardware that produced a scan.
type ScanSource string

const (
	SourceBarcode ScanSource = "barcode"
	SourceRFID    ScanSource = "rfid"
)

// Scan is a product identification event. Immutable once emitted.
type Scan struct {
	ProductID  string
	Source     ScanSource
	Confidence float64 // decoder confidence in [0,1]
	At         time.Time
}

// WeightSample is one raw reading from the scale.
type WeightSample struct {
	Grams float64
	At    time.Time
}

// WeightDelta is a settled net weight change. Sign carries direction.
type WeightDelta struct {
	Grams float64
	At    time.Time
}

// Event is the tagged union appended to the intake queue. Exactly one of
// Sample, Delta, Scan is set, according to Kind; ticks and tares carry
// only a timestamp.
type Event struct {
	Kind   Kind
	Seq    int64 // stamped by the queue at intake
	At     time.Time
	Sample *WeightSample
	Delta  *WeightDelta
	Scan   *Scan
}

// NewSample wraps a raw weight reading.
func NewSample(grams float64, at time.Time) Event {
	return Event{Kind: KindWeightSample, At: at, Sample: &WeightSample{Grams: grams, At: at}}
}

// NewDelta wraps a pre-settled weight change, for producers that do their
// own settling (interchangeable with sample-emitting producers).
func NewDelta(grams float64, at time.Time) Event {
	return Event{Kind: KindWeightDelta, At: at, Delta: &WeightDelta{Grams: grams, At: at}}
}

// NewScan wraps a product scan.
func NewScan(productID string, source ScanSource, confidence float64, at time.Time) Event {
	return Event{Kind: KindScan, At: at, Scan: &Scan{
		ProductID:  productID,
		Source:     source,
		Confidence: confidence,
		At:         at,
	}}
}

// NewTick creates a housekeeping event carrying the current time.
func NewTick(at time.Time) Event {
	return Event{Kind: KindTick, At: at}
}

// NewTare creates a baseline re-zero event.
func NewTare(at time.Time) Event {
	return Event{Kind: KindTare, At: at}
}
