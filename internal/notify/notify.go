// Package notify decouples transaction outcomes from user-facing
// feedback. Dispatch goes through a bounded channel drained by a
// background goroutine, so a slow display or audio collaborator can never
// stall the correlator. When the channel is full the oldest pending
// notification is dropped: notification loss is acceptable, transaction
// loss is not.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/smartkart/kart/internal/ledger"
)

// Kind categorizes feedback requests.
type Kind string

const (
	// KindSuccess confirms a settled transaction.
	KindSuccess Kind = "success"
	// KindReview asks the user to re-verify an ambiguous item.
	KindReview Kind = "review"
	// KindAlert flags a possible theft or error signal.
	KindAlert Kind = "alert"
	// KindDegraded reports a sensor that stopped producing events.
	KindDegraded Kind = "degraded"
)

// Notification is one feedback request. Txn is nil for notifications not
// tied to a transaction (degraded mode, drift review).
type Notification struct {
	Kind    Kind
	Txn     *ledger.Transaction
	Message string
	At      time.Time
}

// Feedback is an external UI collaborator: display, audio, haptics.
// Deliver must tolerate being called from the dispatch goroutine; it may
// be slow without consequence.
type Feedback interface {
	Deliver(n Notification)
}

// Notifier fans notifications out to feedback collaborators.
type Notifier struct {
	ch    chan Notification
	sinks []Feedback

	mu      sync.Mutex
	closed  bool
	dropped int

	done chan struct{}
	once sync.Once
}

// New creates a notifier with the given channel capacity and starts its
// dispatch goroutine. Capacity below 1 is clamped to 1.
func New(capacity int, sinks ...Feedback) *Notifier {
	if capacity < 1 {
		capacity = 1
	}
	n := &Notifier{
		ch:    make(chan Notification, capacity),
		sinks: sinks,
		done:  make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// Notify queues a feedback request without blocking. If the channel is
// full, the oldest pending notification is discarded to make room. After
// Close the notification is dropped; producers may outlive the session
// by a moment during shutdown.
func (n *Notifier) Notify(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		n.dropped++
		return
	}

	for {
		select {
		case n.ch <- note:
			return
		default:
		}

		// Full: evict the oldest and retry. The dispatcher may race us
		// for the eviction, which is fine either way.
		select {
		case <-n.ch:
			n.dropped++
		default:
		}
	}
}

// Dropped returns how many notifications were discarded under pressure.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close stops the dispatch goroutine after draining queued
// notifications. Safe to call more than once. The closed flag is set
// under the same mutex Notify sends under, so a concurrent Notify either
// completes its send first or sees the flag and drops.
func (n *Notifier) Close() {
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()
		close(n.ch)
		<-n.done
	})
}

func (n *Notifier) dispatch() {
	defer close(n.done)
	for note := range n.ch {
		for _, sink := range n.sinks {
			sink.Deliver(note)
		}
	}
}

// LogFeedback is the default feedback collaborator: it writes
// notifications to the structured log. Real deployments attach display
// and audio sinks alongside or instead of it.
type LogFeedback struct{}

// Deliver logs the notification.
func (LogFeedback) Deliver(n Notification) {
	attrs := []any{"kind", string(n.Kind), "message", n.Message}
	if n.Txn != nil {
		attrs = append(attrs,
			"txn_id", n.Txn.ID,
			"product_id", n.Txn.ProductID,
			"quality", string(n.Txn.Quality),
		)
	}
	switch n.Kind {
	case KindAlert, KindDegraded:
		slog.Warn("cart feedback", attrs...)
	default:
		slog.Info("cart feedback", attrs...)
	}
}

// CaptureFeedback records notifications for tests.
type CaptureFeedback struct {
	mu    sync.Mutex
	notes []Notification
}

// Deliver appends the notification to the capture log.
func (c *CaptureFeedback) Deliver(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
}

// Notes returns a copy of everything delivered so far.
func (c *CaptureFeedback) Notes() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.notes))
	copy(out, c.notes)
	return out
}
