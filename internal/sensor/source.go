// Package sensor adapts heterogeneous producers - simulated hardware,
// scripted replay feeds, and eventually real drivers - to the single
// typed event stream the correlator consumes. Any producer that emits
// well-formed events with monotonic timestamps is interchangeable; the
// correlator never special-cases a source.
package sensor

import (
	"context"
	"time"

	"github.com/smartkart/kart/internal/event"
)

// Emitter is where a source appends its events. Satisfied by
// *event.Queue; the supervisor wraps it to observe liveness.
type Emitter interface {
	Emit(e event.Event) bool
}

// Source is one event producer. Run blocks until the context is
// cancelled or the source's feed is exhausted.
type Source interface {
	Name() string
	Run(ctx context.Context, out Emitter) error
}

// Script replays a fixed, literal event sequence. It is the deterministic
// simulation feed: the same script always produces the same intake order,
// so the same transactions come out the other end.
type Script struct {
	SourceName string
	Events     []event.Event
}

// Name returns the script's source name, defaulting to "script".
func (s *Script) Name() string {
	if s.SourceName == "" {
		return "script"
	}
	return s.SourceName
}

// Run emits the scripted events in order, without pacing. Stops early if
// the context is cancelled or the emitter is closed.
func (s *Script) Run(ctx context.Context, out Emitter) error {
	for _, ev := range s.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !out.Emit(ev) {
			return nil
		}
	}
	return nil
}

// Ticker emits housekeeping ticks at a fixed wall-clock interval for
// live runs. Simulation scripts carry their own ticks instead.
type Ticker struct {
	Interval time.Duration
}

// Name returns "ticker".
func (t *Ticker) Name() string { return "ticker" }

// Run emits ticks until the context is cancelled.
func (t *Ticker) Run(ctx context.Context, out Emitter) error {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if !out.Emit(event.NewTick(now)) {
				return nil
			}
		}
	}
}
