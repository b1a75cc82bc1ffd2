// Package classify defines the image/ingredient classifier collaborator.
//
// The classifier is a black box invoked only when scan and weight
// evidence disagree. It is the escalation path for ambiguous matches; a
// timeout or failure leaves the transaction ambiguous, it never blocks a
// commit indefinitely.
package classify

import (
	"context"
	"errors"

	"github.com/smartkart/kart/internal/event"
)

// ErrUnresolved is returned when the classifier cannot identify the item.
var ErrUnresolved = errors.New("classifier could not resolve item")

// Descriptor carries the evidence available for re-verification.
type Descriptor struct {
	ProductID   string           // product claimed by the scan, if any
	Source      event.ScanSource // where the claim came from
	WeightGrams float64          // observed weight change magnitude
}

// Result is a classifier verdict.
type Result struct {
	ProductID  string
	Confidence float64 // in [0,1]
}

// Classifier identifies an item from partial evidence. Implementations
// must honor ctx cancellation; the correlator calls with a deadline.
type Classifier interface {
	Classify(ctx context.Context, d Descriptor) (Result, error)
}

// Stub is a deterministic classifier for simulation and tests. Verdicts
// are keyed by the scanned product ID; anything absent resolves to
// ErrUnresolved.
type Stub struct {
	Verdicts map[string]Result
}

// Classify returns the canned verdict for the descriptor's product ID.
func (s *Stub) Classify(ctx context.Context, d Descriptor) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if r, ok := s.Verdicts[d.ProductID]; ok {
		return r, nil
	}
	return Result{}, ErrUnresolved
}

// None is a classifier that never resolves anything. Used when no
// classifier collaborator is attached.
type None struct{}

// Classify always returns ErrUnresolved.
func (None) Classify(ctx context.Context, d Descriptor) (Result, error) {
	return Result{}, ErrUnresolved
}
