package sensor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartkart/kart/internal/correlator"
	"github.com/smartkart/kart/internal/event"
	"github.com/smartkart/kart/internal/notify"
)

// Supervisor runs a set of sources against one intake queue and watches
// their liveness. A source that goes silent past the deadline is
// reported as a degraded-mode notification - never fatal; the cart keeps
// operating on the evidence it still receives.
type Supervisor struct {
	sources  []Source
	deadline time.Duration
	notifier *notify.Notifier
}

// NewSupervisor creates a supervisor. A non-positive deadline disables
// liveness monitoring.
func NewSupervisor(deadline time.Duration, notifier *notify.Notifier, sources ...Source) *Supervisor {
	return &Supervisor{
		sources:  sources,
		deadline: deadline,
		notifier: notifier,
	}
}

// trackedEmitter records the wall time of the last emit per source.
type trackedEmitter struct {
	out  Emitter
	last atomic.Int64 // unix nanos
}

func (t *trackedEmitter) Emit(e event.Event) bool {
	t.last.Store(time.Now().UnixNano())
	return t.out.Emit(e)
}

// Run starts every source in its own goroutine plus a liveness monitor,
// and blocks until all sources have returned. Producer errors other than
// context cancellation are logged, not propagated: one dead sensor must
// not stop the session.
func (s *Supervisor) Run(ctx context.Context, q *event.Queue) error {
	var wg sync.WaitGroup
	tracked := make(map[string]*trackedEmitter, len(s.sources))

	for _, src := range s.sources {
		te := &trackedEmitter{out: q}
		te.last.Store(time.Now().UnixNano())
		tracked[src.Name()] = te

		wg.Add(1)
		go func(src Source, te *trackedEmitter) {
			defer wg.Done()
			if err := src.Run(ctx, te); err != nil && ctx.Err() == nil {
				slog.Error("sensor source failed", "source", src.Name(), "error", err)
			}
		}(src, te)
	}

	if s.deadline > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.monitor(ctx, tracked)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// monitor checks each source's last-emit time on a fixed cadence and
// raises one degraded notification per stall.
func (s *Supervisor) monitor(ctx context.Context, tracked map[string]*trackedEmitter) {
	ticker := time.NewTicker(s.deadline / 2)
	defer ticker.Stop()

	stalled := make(map[string]bool, len(tracked))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for name, te := range tracked {
				silent := now.Sub(time.Unix(0, te.last.Load()))
				if silent < s.deadline {
					stalled[name] = false
					continue
				}
				if stalled[name] {
					continue
				}
				stalled[name] = true

				fault := &correlator.FaultError{
					Code:    correlator.CodeSensorTimeout,
					Message: "sensor stopped producing events",
					Source:  name,
				}
				slog.Warn("sensor stalled", "error", fault, "silent", silent)
				if s.notifier != nil {
					s.notifier.Notify(notify.Notification{
						Kind:    notify.KindDegraded,
						Message: "sensor " + name + " is not responding",
						At:      now,
					})
				}
			}
		}
	}
}
