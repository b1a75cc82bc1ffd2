package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartkart/kart/internal/catalog"
	"github.com/smartkart/kart/internal/classify"
	"github.com/smartkart/kart/internal/event"
	"github.com/smartkart/kart/internal/ledger"
	"github.com/smartkart/kart/internal/notify"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Product{
		{ID: "SKU123", Name: "Pasta", Price: 2.49, WeightGrams: 150},
		{ID: "SKU456", Name: "Olive Oil", Price: 8.99, WeightGrams: 920},
	})
	require.NoError(t, err)
	return c
}

func testParams() Params {
	return Params{
		ThresholdGrams:      10,
		ToleranceFraction:   0.10,
		ScanTimeout:         2 * time.Second,
		ConfidenceThreshold: 0.7,
		SettleSamples:       3,
		ClassifierTimeout:   time.Second,
	}
}

type fixture struct {
	corr     *Correlator
	queue    *event.Queue
	notifier *notify.Notifier
	capture  *notify.CaptureFeedback
}

func newFixture(t *testing.T, cls classify.Classifier) *fixture {
	t.Helper()
	capture := &notify.CaptureFeedback{}
	notifier := notify.New(16, capture)
	q := event.NewQueue()
	corr := New(q, testCatalog(t), cls, ledger.New(nil), notifier,
		NewSequentialGenerator("txn"), testParams())
	return &fixture{corr: corr, queue: q, notifier: notifier, capture: capture}
}

// run closes the queue and drives the event loop to completion.
func (f *fixture) run(t *testing.T) *ledger.Ledger {
	t.Helper()
	f.queue.Close()
	require.NoError(t, f.corr.Run(context.Background()))
	f.notifier.Close()
	return f.corr.Ledger()
}

// settle enqueues enough identical samples to settle the scale at grams.
func (f *fixture) settle(grams float64, at time.Time) {
	for i := 0; i < 3; i++ {
		f.queue.Emit(event.NewSample(grams, at.Add(time.Duration(i)*10*time.Millisecond)))
	}
}

func TestCorrelator_ExactMatch(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.settle(150, base.Add(300*time.Millisecond))

	led := f.run(t)
	require.Equal(t, 1, led.Len())

	txn := led.All()[0]
	assert.Equal(t, "txn-0001", txn.ID)
	assert.Equal(t, int64(1), txn.Seq)
	assert.Equal(t, "SKU123", txn.ProductID)
	assert.Equal(t, ledger.DirAdded, txn.Direction)
	assert.Equal(t, ledger.QualityExact, txn.Quality)
	assert.InDelta(t, 150, txn.ObservedDelta, 0.001)

	assert.Equal(t, map[string]int{"SKU123": 1}, led.Contents())
	assert.InDelta(t, 2.49, led.TotalPrice(), 0.001)

	notes := f.capture.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindSuccess, notes[0].Kind)
}

func TestCorrelator_WithinTolerance(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.settle(155, base.Add(300*time.Millisecond))

	led := f.run(t)
	require.Equal(t, 1, led.Len())
	assert.Equal(t, ledger.QualityWithinTolerance, led.All()[0].Quality)
	assert.Equal(t, map[string]int{"SKU123": 1}, led.Contents())
}

func TestCorrelator_PreSettledDeltaEquivalent(t *testing.T) {
	// A producer that settles its own readings feeds deltas directly and
	// gets the same treatment as raw samples.
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.queue.Emit(event.NewDelta(150, base.Add(300*time.Millisecond)))

	led := f.run(t)
	require.Equal(t, 1, led.Len())
	assert.Equal(t, ledger.QualityExact, led.All()[0].Quality)
}

func TestCorrelator_UnmatchedWeight(t *testing.T) {
	f := newFixture(t, nil)

	f.settle(200, base)

	led := f.run(t)
	require.Equal(t, 1, led.Len())

	txn := led.All()[0]
	assert.Empty(t, txn.ProductID)
	assert.Equal(t, ledger.QualityUnmatchedWeight, txn.Quality)
	assert.InDelta(t, 200, txn.ObservedDelta, 0.001)

	assert.Empty(t, led.Contents(), "unverified mass never enters contents")
	assert.InDelta(t, 200, led.TotalWeight(), 0.001, "but the weight is still tracked")

	notes := f.capture.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindAlert, notes[0].Kind)
}

func TestCorrelator_UnmatchedScanExpires(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	// The sweep fires after the 2s match window has passed.
	f.queue.Emit(event.NewTick(base.Add(3 * time.Second)))

	led := f.run(t)
	require.Equal(t, 1, led.Len())

	txn := led.All()[0]
	assert.Equal(t, "SKU123", txn.ProductID)
	assert.Equal(t, ledger.QualityUnmatchedScan, txn.Quality)
	assert.InDelta(t, 0, txn.ObservedDelta, 0.001, "no weight ever changed")
	assert.Equal(t, base.Add(2*time.Second), txn.At, "committed at the expiry deadline")
	assert.Empty(t, led.Contents())

	notes := f.capture.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindAlert, notes[0].Kind)
}

func TestCorrelator_TickBeforeExpiryKeepsScan(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.queue.Emit(event.NewTick(base.Add(time.Second)))
	f.settle(150, base.Add(1500*time.Millisecond))

	led := f.run(t)
	require.Equal(t, 1, led.Len())
	assert.Equal(t, ledger.QualityExact, led.All()[0].Quality)
}

func TestCorrelator_WeightMismatchStaysAmbiguous(t *testing.T) {
	f := newFixture(t, nil) // no classifier attached

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.settle(400, base.Add(300*time.Millisecond)) // far from the 150g catalog weight

	led := f.run(t)
	require.Equal(t, 1, led.Len())

	txn := led.All()[0]
	assert.Equal(t, ledger.QualityAmbiguous, txn.Quality)
	assert.Empty(t, led.Contents())
	assert.InDelta(t, 400, led.TotalWeight(), 0.001)

	notes := f.capture.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindReview, notes[0].Kind)
}

func TestCorrelator_LowConfidenceResolvedByClassifier(t *testing.T) {
	cls := &classify.Stub{Verdicts: map[string]classify.Result{
		"SKU123": {ProductID: "SKU123", Confidence: 0.95},
	}}
	f := newFixture(t, cls)

	// RFID read below the confidence gate, but the weight agrees and the
	// classifier confirms the product.
	f.queue.Emit(event.NewScan("SKU123", event.SourceRFID, 0.5, base))
	f.settle(150, base.Add(300*time.Millisecond))

	led := f.run(t)
	require.Equal(t, 1, led.Len())
	assert.Equal(t, ledger.QualityWithinTolerance, led.All()[0].Quality)
	assert.Equal(t, map[string]int{"SKU123": 1}, led.Contents())

	notes := f.capture.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindSuccess, notes[0].Kind)
}

func TestCorrelator_ClassifierDisagreementStaysAmbiguous(t *testing.T) {
	cls := &classify.Stub{Verdicts: map[string]classify.Result{
		"SKU123": {ProductID: "SKU456", Confidence: 0.95},
	}}
	f := newFixture(t, cls)

	f.queue.Emit(event.NewScan("SKU123", event.SourceRFID, 0.5, base))
	f.settle(150, base.Add(300*time.Millisecond))

	led := f.run(t)
	require.Equal(t, 1, led.Len())
	assert.Equal(t, ledger.QualityAmbiguous, led.All()[0].Quality)
}

func TestCorrelator_RemovalMatchesRecentAddition(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.settle(150, base.Add(300*time.Millisecond))
	f.settle(0, base.Add(5*time.Second))

	led := f.run(t)
	require.Equal(t, 2, led.Len())

	removal := led.All()[1]
	assert.Equal(t, "SKU123", removal.ProductID)
	assert.Equal(t, ledger.DirRemoved, removal.Direction)
	assert.Equal(t, ledger.QualityExact, removal.Quality)
	assert.InDelta(t, -150, removal.ObservedDelta, 0.001)

	assert.Empty(t, led.Contents())
	assert.InDelta(t, 0, led.TotalWeight(), 0.001)
	assert.InDelta(t, 0, led.TotalPrice(), 0.001)
}

func TestCorrelator_RemovalOfUnknownMassFlagged(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.settle(150, base.Add(300*time.Millisecond))
	// 60g matches nothing tracked in the cart.
	f.settle(90, base.Add(5*time.Second))

	led := f.run(t)
	require.Equal(t, 2, led.Len())

	removal := led.All()[1]
	assert.Empty(t, removal.ProductID)
	assert.Equal(t, ledger.DirRemoved, removal.Direction)
	assert.Equal(t, ledger.QualityUnmatchedWeight, removal.Quality)

	// The item count is untouched; only the weight moved.
	assert.Equal(t, map[string]int{"SKU123": 1}, led.Contents())

	notes := f.capture.Notes()
	require.Len(t, notes, 2)
	assert.Equal(t, notify.KindAlert, notes[1].Kind)
}

func TestCorrelator_ShutdownFlushesPendingScans(t *testing.T) {
	f := newFixture(t, nil)

	// Scan buffered with no weight change and no tick: the shutdown
	// drain must still surface it as evidence.
	f.queue.Emit(event.NewScan("SKU456", event.SourceBarcode, 0.98, base))

	led := f.run(t)
	require.Equal(t, 1, led.Len())
	assert.Equal(t, ledger.QualityUnmatchedScan, led.All()[0].Quality)
	assert.Equal(t, "SKU456", led.All()[0].ProductID)
}

func TestCorrelator_Tare(t *testing.T) {
	f := newFixture(t, nil)

	f.settle(500, base) // customer's own bag
	// Tare re-zeroes both the hardware reading and the tracker baseline.
	f.queue.Emit(event.NewTare(base.Add(time.Second)))
	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base.Add(2*time.Second)))
	f.settle(150, base.Add(2200*time.Millisecond))

	led := f.run(t)
	require.Equal(t, 2, led.Len())

	// The bag registered as unmatched weight before the tare.
	assert.Equal(t, ledger.QualityUnmatchedWeight, led.All()[0].Quality)

	// Post-tare the pasta reads as +150 against the re-zeroed baseline.
	txn := led.All()[1]
	assert.Equal(t, ledger.QualityExact, txn.Quality)
	assert.InDelta(t, 150, txn.ObservedDelta, 0.001)
}

func TestCorrelator_ContextCancelDrains(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.settle(150, base.Add(300*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.corr.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	f.notifier.Close()

	// Cancellation still drained the queue and committed the evidence.
	assert.Equal(t, 1, f.corr.Ledger().Len())
}

func TestCorrelator_DeterministicReplay(t *testing.T) {
	feed := func(f *fixture) {
		f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
		f.settle(150, base.Add(300*time.Millisecond))
		f.settle(350, base.Add(3*time.Second)) // unmatched +200
		f.queue.Emit(event.NewScan("SKU456", event.SourceBarcode, 0.9, base.Add(4*time.Second)))
		f.queue.Emit(event.NewTick(base.Add(10 * time.Second)))
	}

	f1 := newFixture(t, nil)
	feed(f1)
	first := f1.run(t).All()

	f2 := newFixture(t, nil)
	feed(f2)
	second := f2.run(t).All()

	assert.Equal(t, first, second, "identical intake must produce identical ledgers")
}

func TestCorrelator_DriftFlaggedOncePerExcursion(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.settle(150, base.Add(300*time.Millisecond))

	// Slow creep: each step settles below the 10g reporting floor, so
	// the tracker absorbs it without emitting while the ledger stays put.
	f.settle(158, base.Add(2*time.Second))
	f.settle(166, base.Add(3*time.Second))
	f.settle(174, base.Add(4*time.Second))

	f.queue.Emit(event.NewTick(base.Add(5 * time.Second)))
	f.queue.Emit(event.NewTick(base.Add(6 * time.Second)))

	led := f.run(t)
	require.Equal(t, 1, led.Len(), "creep below threshold commits nothing")

	var reviews int
	for _, n := range f.capture.Notes() {
		if n.Kind == notify.KindReview && n.Txn == nil {
			reviews++
		}
	}
	assert.Equal(t, 1, reviews, "one excursion, one flag, no matter how many sweeps")
}

func TestCorrelator_StopClosesQueue(t *testing.T) {
	f := newFixture(t, nil)

	done := make(chan error, 1)
	go func() { done <- f.corr.Run(context.Background()) }()

	f.queue.Emit(event.NewScan("SKU123", event.SourceBarcode, 0.98, base))
	f.corr.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	f.notifier.Close()

	// The buffered scan was flushed on the way out.
	assert.Equal(t, 1, f.corr.Ledger().Len())
}
