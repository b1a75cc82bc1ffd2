package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/smartkart/kart/internal/catalog"
	"github.com/smartkart/kart/internal/classify"
	"github.com/smartkart/kart/internal/config"
	"github.com/smartkart/kart/internal/correlator"
	"github.com/smartkart/kart/internal/event"
	"github.com/smartkart/kart/internal/ledger"
	"github.com/smartkart/kart/internal/notify"
	"github.com/smartkart/kart/internal/sensor"
)

// BaseTime anchors scenario offsets. Fixed so the same scenario always
// produces byte-identical traces.
var BaseTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Result captures everything a scenario run produced.
type Result struct {
	Transactions  []ledger.Transaction
	Notifications []notify.Notification
	Contents      map[string]int
	Summary       ledger.Summary

	// Failures lists expectation mismatches; empty means pass.
	Failures []string
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Run executes the scenario's feed through a real correlator with a
// scripted source, a sequential ID generator, and a capturing notifier,
// then evaluates its expectations.
func Run(sc *Scenario) (*Result, error) {
	cfg := config.Default()
	applyOverrides(cfg, sc.Config)

	cat, err := scenarioCatalog(sc)
	if err != nil {
		return nil, err
	}

	var cls classify.Classifier = classify.None{}
	if len(sc.Classifier) > 0 {
		verdicts := make(map[string]classify.Result, len(sc.Classifier))
		for id, v := range sc.Classifier {
			verdicts[id] = classify.Result{ProductID: v.Product, Confidence: v.Confidence}
		}
		cls = &classify.Stub{Verdicts: verdicts}
	}

	events, err := buildFeed(sc, cfg)
	if err != nil {
		return nil, err
	}

	queue := event.NewQueue()
	capture := &notify.CaptureFeedback{}
	notifier := notify.New(64, capture)
	led := ledger.New(nil)

	corr := correlator.New(queue, cat, cls, led, notifier,
		correlator.NewSequentialGenerator("txn"),
		correlator.Params{
			ThresholdGrams:      cfg.Weight.ThresholdGrams,
			ToleranceFraction:   cfg.Weight.ToleranceFraction,
			ScanTimeout:         cfg.ScanTimeout(),
			ConfidenceThreshold: cfg.Scan.ConfidenceThreshold,
			SettleSamples:       cfg.Weight.SettleSamples,
			ClassifierTimeout:   cfg.ClassifierTimeout(),
		})

	// Feed the whole script, close the queue, then let the correlator
	// drain to completion. No goroutines, no wall clocks: the run is a
	// pure function of the feed.
	script := &sensor.Script{Events: events}
	if err := script.Run(context.Background(), queue); err != nil {
		return nil, fmt.Errorf("feed scenario: %w", err)
	}
	queue.Close()

	if err := corr.Run(context.Background()); err != nil {
		return nil, fmt.Errorf("run correlator: %w", err)
	}
	notifier.Close()

	res := &Result{
		Transactions:  led.All(),
		Notifications: capture.Notes(),
		Contents:      led.Contents(),
		Summary:       led.Summarize(),
	}
	res.Failures = checkExpectations(sc.Expect, res.Transactions)
	return res, nil
}

func scenarioCatalog(sc *Scenario) (*catalog.Catalog, error) {
	if len(sc.Catalog) == 0 {
		return catalog.Builtin(), nil
	}
	cat, err := catalog.New(sc.Catalog)
	if err != nil {
		return nil, fmt.Errorf("scenario catalog: %w", err)
	}
	return cat, nil
}

func applyOverrides(cfg *config.Config, o ConfigOverride) {
	if o.ThresholdG != 0 {
		cfg.Weight.ThresholdGrams = o.ThresholdG
	}
	if o.ToleranceFraction != 0 {
		cfg.Weight.ToleranceFraction = o.ToleranceFraction
	}
	if o.ScanTimeoutS != 0 {
		cfg.Scan.TimeoutSeconds = o.ScanTimeoutS
	}
	if o.ConfidenceThreshold != 0 {
		cfg.Scan.ConfidenceThreshold = o.ConfidenceThreshold
	}
	if o.SettleSamples != 0 {
		cfg.Weight.SettleSamples = o.SettleSamples
	}
}

// buildFeed turns feed steps into concrete events. Settle steps expand
// into settle_samples identical readings 10ms apart.
func buildFeed(sc *Scenario, cfg *config.Config) ([]event.Event, error) {
	var events []event.Event
	for i, step := range sc.Feed {
		at := BaseTime.Add(time.Duration(step.At * float64(time.Second)))

		switch {
		case step.Scan != nil:
			source := event.SourceBarcode
			switch step.Scan.Source {
			case "", "barcode":
			case "rfid":
				source = event.SourceRFID
			default:
				return nil, fmt.Errorf("feed[%d]: unknown scan source %q", i, step.Scan.Source)
			}
			events = append(events, event.NewScan(step.Scan.Product, source, step.Scan.Confidence, at))

		case step.Sample != nil:
			events = append(events, event.NewSample(*step.Sample, at))

		case step.Settle != nil:
			for s := 0; s < cfg.Weight.SettleSamples; s++ {
				events = append(events,
					event.NewSample(*step.Settle, at.Add(time.Duration(s)*10*time.Millisecond)))
			}

		case step.Delta != nil:
			events = append(events, event.NewDelta(*step.Delta, at))

		case step.Advance:
			events = append(events, event.NewTick(at))

		case step.Tare:
			events = append(events, event.NewTare(at))
		}
	}
	return events, nil
}

func checkExpectations(expect []Expectation, txns []ledger.Transaction) []string {
	if len(expect) == 0 {
		return nil
	}

	var failures []string
	if len(txns) != len(expect) {
		failures = append(failures,
			fmt.Sprintf("expected %d transactions, got %d", len(expect), len(txns)))
	}

	n := len(expect)
	if len(txns) < n {
		n = len(txns)
	}
	for i := 0; i < n; i++ {
		want, got := expect[i], txns[i]
		if want.Product != got.ProductID {
			failures = append(failures,
				fmt.Sprintf("txn[%d]: product %q, want %q", i, got.ProductID, want.Product))
		}
		if want.Direction != string(got.Direction) {
			failures = append(failures,
				fmt.Sprintf("txn[%d]: direction %q, want %q", i, got.Direction, want.Direction))
		}
		if want.Quality != string(got.Quality) {
			failures = append(failures,
				fmt.Sprintf("txn[%d]: quality %q, want %q", i, got.Quality, want.Quality))
		}
	}
	return failures
}
