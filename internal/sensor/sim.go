package sensor

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/smartkart/kart/internal/catalog"
	"github.com/smartkart/kart/internal/event"
)

// DemoPlan is the shared state between the simulated scanner and scale:
// the scanner announces placements by raising the target weight, the
// scale converges on it. This stands in for the physics of a real cart.
type DemoPlan struct {
	target chan float64 // current target, buffered size 1
}

// NewDemoPlan creates a plan starting at an empty cart.
func NewDemoPlan() *DemoPlan {
	p := &DemoPlan{target: make(chan float64, 1)}
	p.target <- 0
	return p
}

// Add raises the target weight by grams.
func (p *DemoPlan) Add(grams float64) {
	t := <-p.target
	p.target <- t + grams
}

// Target returns the current target weight.
func (p *DemoPlan) Target() float64 {
	t := <-p.target
	p.target <- t
	return t
}

// SimScale is a pseudo load cell: it samples the plan's target weight
// with bounded jitter, paced by a rate limiter so a tight loop cannot
// flood the intake queue.
type SimScale struct {
	Plan     *DemoPlan
	SampleHz float64
	JitterG  float64 // peak-to-peak sample noise in grams
	Seed     int64
}

// Name returns "sim-scale".
func (s *SimScale) Name() string { return "sim-scale" }

// Run emits weight samples until the context is cancelled.
func (s *SimScale) Run(ctx context.Context, out Emitter) error {
	hz := s.SampleHz
	if hz <= 0 {
		hz = 4
	}
	rng := rand.New(rand.NewSource(s.Seed))
	limiter := rate.NewLimiter(rate.Limit(hz), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		jitter := (rng.Float64() - 0.5) * s.JitterG
		if !out.Emit(event.NewSample(s.Plan.Target()+jitter, time.Now())) {
			return nil
		}
	}
}

// SimScanner walks the catalog like a shopper: every Interval it scans
// the next product and, shortly after, "places" it by raising the plan's
// target weight.
type SimScanner struct {
	Plan       *DemoPlan
	Catalog    *catalog.Catalog
	Interval   time.Duration
	PlaceDelay time.Duration // scan-to-placement lag
	Confidence float64
}

// Name returns "sim-scanner".
func (s *SimScanner) Name() string { return "sim-scanner" }

// Run scans products cyclically until the context is cancelled.
func (s *SimScanner) Run(ctx context.Context, out Emitter) error {
	products := s.Catalog.Products()
	if len(products) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	confidence := s.Confidence
	if confidence == 0 {
		confidence = 0.98
	}
	delay := s.PlaceDelay
	if delay == 0 {
		delay = 300 * time.Millisecond
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			p := products[i%len(products)]
			i++
			if !out.Emit(event.NewScan(p.ID, event.SourceBarcode, confidence, now)) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				s.Plan.Add(p.WeightGrams)
			}
		}
	}
}
