// Package scanbuf holds scans that have not yet been paired with a weight
// change. Entries live until matched or expired; nothing is silently
// dropped. The buffer is owned by the correlator's consumer goroutine and
// needs no locking.
package scanbuf

import (
	"time"

	"github.com/smartkart/kart/internal/event"
)

// Pending is a buffered scan plus its expiry deadline.
type Pending struct {
	Scan      event.Scan
	Seq       int64 // intake seq, used for FIFO tie-breaking
	ExpiresAt time.Time
}

// Buffer is a FIFO of pending scans with timestamp-proximity matching.
type Buffer struct {
	timeout time.Duration
	pending []Pending
}

// New creates a buffer whose entries expire timeout after their scan
// timestamp.
func New(timeout time.Duration) *Buffer {
	return &Buffer{timeout: timeout}
}

// Push buffers a scan. Seq is the scan's intake sequence number.
func (b *Buffer) Push(s event.Scan, seq int64) {
	b.pending = append(b.pending, Pending{
		Scan:      s,
		Seq:       seq,
		ExpiresAt: s.At.Add(b.timeout),
	})
}

// PopBestMatch removes and returns the pending scan whose timestamp is
// closest to at, considering only scans within the tolerance window
// [at-timeout, at+timeout]. Ties break by earliest arrival (lowest intake
// seq) to keep matching deterministic and replayable.
func (b *Buffer) PopBestMatch(at time.Time) (Pending, bool) {
	best := -1
	var bestDist time.Duration
	for i, p := range b.pending {
		dist := at.Sub(p.Scan.At)
		if dist < 0 {
			dist = -dist
		}
		if dist > b.timeout {
			continue
		}
		if best == -1 || dist < bestDist {
			best = i
			bestDist = dist
		}
		// Equal distance keeps the earlier entry: pending is in arrival
		// order, so the first hit at a given distance wins.
	}
	if best == -1 {
		return Pending{}, false
	}

	p := b.pending[best]
	b.pending = append(b.pending[:best], b.pending[best+1:]...)
	return p, true
}

// Expired drains and returns every pending scan whose deadline has passed
// as of now, in arrival order. The caller turns each into an
// unmatched-scan transaction.
func (b *Buffer) Expired(now time.Time) []Pending {
	var expired []Pending
	kept := b.pending[:0]
	for _, p := range b.pending {
		if !p.ExpiresAt.After(now) {
			expired = append(expired, p)
		} else {
			kept = append(kept, p)
		}
	}
	b.pending = kept
	return expired
}

// Flush drains and returns all pending scans regardless of expiry, in
// arrival order. Used on shutdown so no buffered evidence is lost.
func (b *Buffer) Flush() []Pending {
	out := b.pending
	b.pending = nil
	return out
}

// Len returns the number of pending scans.
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Window returns the match timeout, exposed for diagnostics.
func (b *Buffer) Window() time.Duration {
	return b.timeout
}
