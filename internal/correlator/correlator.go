package correlator

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/smartkart/kart/internal/catalog"
	"github.com/smartkart/kart/internal/classify"
	"github.com/smartkart/kart/internal/event"
	"github.com/smartkart/kart/internal/ledger"
	"github.com/smartkart/kart/internal/notify"
	"github.com/smartkart/kart/internal/scanbuf"
	"github.com/smartkart/kart/internal/weight"
)

// ExactEpsilon is the measurement slack, in grams, under which an
// observed delta counts as exactly the catalog weight.
const ExactEpsilon = 0.5

// Params holds the correlation thresholds, read once at construction.
type Params struct {
	ThresholdGrams      float64
	ToleranceFraction   float64
	ScanTimeout         time.Duration
	ConfidenceThreshold float64
	SettleSamples       int
	ClassifierTimeout   time.Duration
}

// Correlator is the single-consumer state machine for one cart session.
type Correlator struct {
	params   Params
	queue    *event.Queue
	tracker  *weight.Tracker
	buffer   *scanbuf.Buffer
	catalog  *catalog.Catalog
	cls      classify.Classifier
	ledger   *ledger.Ledger
	notifier *notify.Notifier
	ids      TxnIDGenerator
	commits  *event.Clock

	driftFlagged bool
}

// New wires a correlator. cls may be nil (no escalation collaborator);
// the notifier must not be nil - discard feedback with a sink-less
// notifier instead.
func New(
	q *event.Queue,
	cat *catalog.Catalog,
	cls classify.Classifier,
	led *ledger.Ledger,
	n *notify.Notifier,
	ids TxnIDGenerator,
	params Params,
) *Correlator {
	if cls == nil {
		cls = classify.None{}
	}
	return &Correlator{
		params:   params,
		queue:    q,
		tracker:  weight.NewTracker(params.ThresholdGrams, params.SettleSamples),
		buffer:   scanbuf.New(params.ScanTimeout),
		catalog:  cat,
		cls:      cls,
		ledger:   led,
		notifier: n,
		ids:      ids,
		commits:  event.NewClock(),
	}
}

// Queue returns the intake queue producers should emit into.
func (c *Correlator) Queue() *event.Queue {
	return c.queue
}

// Ledger returns the session ledger for read-side queries.
func (c *Correlator) Ledger() *ledger.Ledger {
	return c.ledger
}

// Run is the single-consumer event loop. It blocks until the context is
// cancelled or the queue is closed and drained. Must be called from
// exactly one goroutine.
//
// Shutdown is cooperative and loses nothing: the intake queue is drained,
// pending scans are flushed as unmatched-scan transactions, and the
// ledger is closed. No transaction is fabricated or destroyed beyond
// that.
func (c *Correlator) Run(ctx context.Context) error {
	slog.Info("correlator starting",
		"threshold_g", c.params.ThresholdGrams,
		"tolerance", c.params.ToleranceFraction,
		"scan_timeout", c.params.ScanTimeout,
	)

	for {
		ev, ok := c.queue.TryDequeue()
		if ok {
			c.processEvent(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("correlator stopping: context cancelled")
			c.queue.Close()
			// Drain with a context that survives the cancellation so
			// queued evidence still reaches the ledger.
			c.shutdown(context.WithoutCancel(ctx))
			return ctx.Err()

		case <-c.queue.Wait():
			// The signal channel closes when the queue closes, so this
			// case fires immediately once producers are done.
			if c.queue.Closed() && c.queue.Len() == 0 {
				slog.Info("correlator stopping: queue closed")
				c.shutdown(ctx)
				return nil
			}
		}
	}
}

// Stop closes the intake queue, causing Run to drain and return.
func (c *Correlator) Stop() {
	c.queue.Close()
}

// shutdown drains remaining events, flushes pending scans as
// unmatched-scan transactions, and closes the ledger.
func (c *Correlator) shutdown(ctx context.Context) {
	for {
		ev, ok := c.queue.TryDequeue()
		if !ok {
			break
		}
		c.processEvent(ctx, ev)
	}

	for _, p := range c.buffer.Flush() {
		c.commitUnmatchedScan(ctx, p)
	}

	if err := c.ledger.Close(); err != nil {
		slog.Error("ledger close failed", "error", err)
	}
	slog.Info("correlator shut down", "transactions", c.ledger.Len())
}

// processEvent routes one event. Failures are logged and processing
// continues; retries would make replay non-deterministic.
func (c *Correlator) processEvent(ctx context.Context, ev event.Event) {
	switch ev.Kind {
	case event.KindScan:
		// Scanning alone is not evidence of placement; the scan waits
		// for a weight change or expires.
		c.buffer.Push(*ev.Scan, ev.Seq)
		slog.Debug("scan buffered",
			"product_id", ev.Scan.ProductID,
			"source", string(ev.Scan.Source),
			"confidence", ev.Scan.Confidence,
			"pending", c.buffer.Len(),
		)

	case event.KindWeightSample:
		if d := c.tracker.Observe(ev.Sample.Grams, ev.Sample.At); d != nil {
			c.handleDelta(ctx, *d)
		}

	case event.KindWeightDelta:
		c.handleDelta(ctx, *ev.Delta)

	case event.KindTick:
		c.sweep(ctx, ev.At)

	case event.KindTare:
		c.tracker.Tare()
		slog.Info("scale tared")

	default:
		slog.Error("unknown event kind", "kind", int(ev.Kind), "seq", ev.Seq)
	}
}

// handleDelta is the core pairing decision for a settled weight change.
func (c *Correlator) handleDelta(ctx context.Context, d event.WeightDelta) {
	slog.Debug("weight delta", "grams", d.Grams, "at", d.At)

	if d.Grams > 0 {
		c.handleAddition(ctx, d)
	} else {
		c.handleRemoval(ctx, d)
	}
}

func (c *Correlator) handleAddition(ctx context.Context, d event.WeightDelta) {
	p, ok := c.buffer.PopBestMatch(d.At)
	if !ok {
		// Weight appeared with nothing scanned: theft/error signal.
		txn := c.commit(ctx, ledger.Transaction{
			Direction:     ledger.DirAdded,
			ObservedDelta: d.Grams,
			Quality:       ledger.QualityUnmatchedWeight,
			At:            d.At,
		})
		c.notifyTxn(notify.KindAlert, txn, "weight added without a scan")
		return
	}

	prod, known := c.catalog.Lookup(p.Scan.ProductID)
	expected := prod.WeightGrams

	diff := math.Abs(d.Grams - expected)
	weightOK := !known || expected == 0 || diff <= c.params.ToleranceFraction*expected
	confOK := p.Scan.Confidence >= c.params.ConfidenceThreshold

	if confOK && weightOK {
		quality := ledger.QualityWithinTolerance
		if known && expected > 0 && diff <= ExactEpsilon {
			quality = ledger.QualityExact
		}
		txn := c.commit(ctx, ledger.Transaction{
			ProductID:      p.Scan.ProductID,
			Direction:      ledger.DirAdded,
			ExpectedWeight: expected,
			ObservedDelta:  d.Grams,
			Quality:        quality,
			At:             d.At,
		})
		c.notifyTxn(notify.KindSuccess, txn, "item added")
		return
	}

	// Conflicting evidence: escalate to the classifier before commit.
	// The transaction is immutable once written, so the verdict decides
	// the quality now; an unresolved escalation stays ambiguous forever.
	quality := ledger.QualityAmbiguous
	if c.verify(ctx, p.Scan, d.Grams) {
		quality = ledger.QualityWithinTolerance
	}

	txn := c.commit(ctx, ledger.Transaction{
		ProductID:      p.Scan.ProductID,
		Direction:      ledger.DirAdded,
		ExpectedWeight: expected,
		ObservedDelta:  d.Grams,
		Quality:        quality,
		At:             d.At,
	})
	if quality == ledger.QualityAmbiguous {
		c.notifyTxn(notify.KindReview, txn, "item needs re-verification")
	} else {
		c.notifyTxn(notify.KindSuccess, txn, "item verified by classifier")
	}
}

func (c *Correlator) handleRemoval(ctx context.Context, d event.WeightDelta) {
	magnitude := -d.Grams

	matched, ok := c.ledger.MatchRemoval(magnitude, c.params.ToleranceFraction)
	if !ok {
		// Removal of unknown mass. Also covers a user lifting an item
		// while the scale drifts; there is no way to tell them apart
		// from weight alone, so both are flagged, never guessed at.
		txn := c.commit(ctx, ledger.Transaction{
			Direction:     ledger.DirRemoved,
			ObservedDelta: d.Grams,
			Quality:       ledger.QualityUnmatchedWeight,
			At:            d.At,
		})
		c.notifyTxn(notify.KindAlert, txn, "unrecognized weight removed")
		return
	}

	quality := ledger.QualityWithinTolerance
	if math.Abs(magnitude-matched.ObservedDelta) <= ExactEpsilon {
		quality = ledger.QualityExact
	}
	txn := c.commit(ctx, ledger.Transaction{
		ProductID:      matched.ProductID,
		Direction:      ledger.DirRemoved,
		ExpectedWeight: matched.ExpectedWeight,
		ObservedDelta:  d.Grams,
		Quality:        quality,
		At:             d.At,
	})
	c.notifyTxn(notify.KindSuccess, txn, "item removed")
}

// verify escalates ambiguous evidence to the classifier collaborator.
// Resolution requires the verdict to agree with the scanned product at or
// above the confidence threshold, with the observed weight consistent
// with that product. Any failure or timeout leaves the evidence
// unresolved.
func (c *Correlator) verify(ctx context.Context, s event.Scan, grams float64) bool {
	vctx, cancel := context.WithTimeout(ctx, c.params.ClassifierTimeout)
	defer cancel()

	res, err := c.cls.Classify(vctx, classify.Descriptor{
		ProductID:   s.ProductID,
		Source:      s.Source,
		WeightGrams: grams,
	})
	if err != nil {
		slog.Warn("classifier escalation failed", "error", &FaultError{
			Code:    CodeClassifierFailed,
			Message: "escalation did not resolve item",
			Source:  s.ProductID,
			Err:     err,
		})
		return false
	}

	if res.ProductID != s.ProductID || res.Confidence < c.params.ConfidenceThreshold {
		slog.Debug("classifier verdict disagrees",
			"scanned", s.ProductID,
			"classified", res.ProductID,
			"confidence", res.Confidence,
		)
		return false
	}

	if prod, known := c.catalog.Lookup(res.ProductID); known && prod.WeightGrams > 0 {
		diff := math.Abs(grams - prod.WeightGrams)
		if diff > c.params.ToleranceFraction*prod.WeightGrams {
			return false
		}
	}
	return true
}

// sweep runs housekeeping as of now: expire pending scans and check the
// ledger against the live baseline.
func (c *Correlator) sweep(ctx context.Context, now time.Time) {
	for _, p := range c.buffer.Expired(now) {
		c.commitUnmatchedScan(ctx, p)
	}
	c.checkDrift(now)
}

func (c *Correlator) commitUnmatchedScan(ctx context.Context, p scanbuf.Pending) {
	prod, _ := c.catalog.Lookup(p.Scan.ProductID)
	txn := c.commit(ctx, ledger.Transaction{
		ProductID:      p.Scan.ProductID,
		Direction:      ledger.DirAdded,
		ExpectedWeight: prod.WeightGrams,
		Quality:        ledger.QualityUnmatchedScan,
		At:             p.ExpiresAt,
	})
	c.notifyTxn(notify.KindAlert, txn, "scanned item never placed in cart")
}

// checkDrift compares the ledger's tracked weight with the settled scale
// baseline. Divergence beyond the global tolerance raises a review flag
// exactly once per excursion; it is never silently corrected.
func (c *Correlator) checkDrift(now time.Time) {
	if !c.tracker.Settled() {
		return
	}

	tracked := c.ledger.TotalWeight()
	baseline := c.tracker.Baseline()
	drift := math.Abs(tracked - baseline)
	allowed := math.Max(c.params.ThresholdGrams, c.params.ToleranceFraction*math.Abs(tracked))

	if drift <= allowed {
		c.driftFlagged = false
		return
	}
	if c.driftFlagged {
		return
	}
	c.driftFlagged = true

	fault := &FaultError{
		Code:    CodeLedgerDrift,
		Message: "cart weight diverged from scale baseline",
	}
	slog.Warn("ledger drift detected",
		"error", fault,
		"tracked_g", tracked,
		"baseline_g", baseline,
		"drift_g", drift,
		"allowed_g", allowed,
	)
	c.notifier.Notify(notify.Notification{
		Kind:    notify.KindReview,
		Message: "cart weight does not match its contents",
		At:      now,
	})
}

// commit stamps, appends, and persists one transaction. The commit seq
// comes from the logical clock; commit order is final even if a
// later-arriving event logically preceded an earlier one.
func (c *Correlator) commit(ctx context.Context, txn ledger.Transaction) ledger.Transaction {
	txn.ID = c.ids.NewID()
	txn.Seq = c.commits.Next()

	var price float64
	var name string
	if txn.ProductID != "" {
		if prod, ok := c.catalog.Lookup(txn.ProductID); ok {
			price = prod.Price
			name = prod.Name
		}
	}

	if err := c.ledger.Apply(ctx, txn, price, name); err != nil {
		// Log and continue: the in-memory ledger stays consistent and a
		// retry here would break deterministic replay.
		slog.Error("transaction apply failed",
			"error", err,
			"txn_id", txn.ID,
			"product_id", txn.ProductID,
			"quality", string(txn.Quality),
		)
	}

	slog.Info("transaction committed",
		"txn_id", txn.ID,
		"seq", txn.Seq,
		"product_id", txn.ProductID,
		"direction", string(txn.Direction),
		"quality", string(txn.Quality),
		"observed_g", txn.ObservedDelta,
	)
	return txn
}

func (c *Correlator) notifyTxn(kind notify.Kind, txn ledger.Transaction, msg string) {
	c.notifier.Notify(notify.Notification{
		Kind:    kind,
		Txn:     &txn,
		Message: msg,
		At:      txn.At,
	})
}
