// Package ledger is the append-only record of committed cart
// transactions. Transactions are immutable after commit and never
// reordered; corrections are modeled as new reversing transactions. The
// in-memory cart state is authoritative, with an optional sqlite store
// attached as a durable sink.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Direction says whether a transaction put an item in or took one out.
type Direction string

const (
	DirAdded   Direction = "added"
	DirRemoved Direction = "removed"
)

// MatchQuality grades the evidence behind a transaction.
type MatchQuality string

const (
	// QualityExact: scan matched and the observed weight equals the
	// catalog weight to within measurement precision.
	QualityExact MatchQuality = "exact"
	// QualityWithinTolerance: scan matched and weight agrees within the
	// configured fractional tolerance.
	QualityWithinTolerance MatchQuality = "within_tolerance"
	// QualityUnmatchedWeight: weight changed with no corresponding scan.
	QualityUnmatchedWeight MatchQuality = "unmatched_weight"
	// QualityUnmatchedScan: scan never followed by a weight change.
	QualityUnmatchedScan MatchQuality = "unmatched_scan"
	// QualityAmbiguous: conflicting evidence that escalation could not
	// resolve.
	QualityAmbiguous MatchQuality = "ambiguous"
)

// Settled reports whether a quality grade is trusted enough to update the
// cart contents mapping.
func (q MatchQuality) Settled() bool {
	return q == QualityExact || q == QualityWithinTolerance
}

// Transaction is one committed correlation decision. Immutable after
// creation.
type Transaction struct {
	ID             string
	Seq            int64 // commit order, strictly increasing
	ProductID      string
	Direction      Direction
	ExpectedWeight float64 // catalog per-unit weight, 0 if unknown
	ObservedDelta  float64 // signed grams; 0 for unmatched scans
	Quality        MatchQuality
	At             time.Time
}

// Summary is a point-in-time view of the cart for displays and the CLI.
type Summary struct {
	Items       int
	TotalWeight float64
	TotalPrice  float64
	Products    []string
}

// Ledger applies transactions in commit order and maintains the derived
// cart state. Not safe for concurrent use; it is owned by the
// correlator's consumer goroutine.
type Ledger struct {
	txns  []Transaction
	qty   map[string]int
	names map[string]string

	totalWeight float64
	totalPrice  float64

	store  *Store
	closed bool
}

// New creates an empty ledger. store may be nil for memory-only sessions.
func New(store *Store) *Ledger {
	return &Ledger{
		qty:   make(map[string]int),
		names: make(map[string]string),
		store: store,
	}
}

// Apply appends a transaction and folds it into the cart state. The
// running total weight tracks every observed delta, including unmatched
// and ambiguous ones: mass in the basket is physical fact. The contents
// mapping and price only move on settled transactions, so an ambiguous
// placement raises the weight but never the bill.
func (l *Ledger) Apply(ctx context.Context, txn Transaction, unitPrice float64, name string) error {
	if l.closed {
		return fmt.Errorf("ledger closed: cannot apply transaction %s", txn.ID)
	}

	l.txns = append(l.txns, txn)
	l.totalWeight += txn.ObservedDelta

	if txn.Quality.Settled() && txn.ProductID != "" {
		switch txn.Direction {
		case DirAdded:
			l.qty[txn.ProductID]++
			l.totalPrice += unitPrice
		case DirRemoved:
			if l.qty[txn.ProductID] > 0 {
				l.qty[txn.ProductID]--
				l.totalPrice -= unitPrice
				if l.qty[txn.ProductID] == 0 {
					delete(l.qty, txn.ProductID)
				}
			}
		}
		if name != "" {
			l.names[txn.ProductID] = name
		}
	}

	if l.store != nil {
		if err := l.store.Write(ctx, txn); err != nil {
			return fmt.Errorf("persist transaction %s: %w", txn.ID, err)
		}
	}

	return nil
}

// Contents returns the settled product quantities. The returned map is a
// copy.
func (l *Ledger) Contents() map[string]int {
	out := make(map[string]int, len(l.qty))
	for id, n := range l.qty {
		out[id] = n
	}
	return out
}

// TotalWeight returns the sum of every observed weight delta in grams.
func (l *Ledger) TotalWeight() float64 {
	return l.totalWeight
}

// TotalPrice returns the monetary estimate over settled contents.
func (l *Ledger) TotalPrice() float64 {
	return l.totalPrice
}

// Recent returns the n most recent transactions, oldest first. n <= 0 or
// beyond the ledger length returns everything.
func (l *Ledger) Recent(n int) []Transaction {
	if n <= 0 || n > len(l.txns) {
		n = len(l.txns)
	}
	out := make([]Transaction, n)
	copy(out, l.txns[len(l.txns)-n:])
	return out
}

// All returns every committed transaction in commit order.
func (l *Ledger) All() []Transaction {
	out := make([]Transaction, len(l.txns))
	copy(out, l.txns)
	return out
}

// Len returns the number of committed transactions.
func (l *Ledger) Len() int {
	return len(l.txns)
}

// MatchRemoval finds the most recent settled addition whose tracked
// per-unit weight is consistent with a removal of magnitude grams within
// the fractional tolerance, and whose product still has quantity in the
// cart. Returns the matched transaction.
func (l *Ledger) MatchRemoval(magnitude, toleranceFraction float64) (Transaction, bool) {
	for i := len(l.txns) - 1; i >= 0; i-- {
		txn := l.txns[i]
		if txn.Direction != DirAdded || !txn.Quality.Settled() || txn.ProductID == "" {
			continue
		}
		if l.qty[txn.ProductID] == 0 {
			continue
		}
		perUnit := txn.ObservedDelta
		if perUnit <= 0 {
			continue
		}
		if math.Abs(magnitude-perUnit) <= toleranceFraction*perUnit {
			return txn, true
		}
	}
	return Transaction{}, false
}

// Summarize builds a display summary. Product names come from the names
// recorded at commit time; unnamed products fall back to their ID.
func (l *Ledger) Summarize() Summary {
	items := 0
	products := make([]string, 0, len(l.qty))
	for id, n := range l.qty {
		items += n
		name := l.names[id]
		if name == "" {
			name = id
		}
		products = append(products, name)
	}
	sort.Strings(products)
	return Summary{
		Items:       items,
		TotalWeight: l.totalWeight,
		TotalPrice:  l.totalPrice,
		Products:    products,
	}
}

// Close marks the ledger closed and closes the attached store. Further
// Apply calls fail; nothing already committed is altered.
func (l *Ledger) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.store != nil {
		return l.store.Close()
	}
	return nil
}

// Rebuild replays persisted transactions into a fresh memory-only ledger.
// Applying all committed transactions to an empty cart reproduces the
// same contents as live bookkeeping did.
func Rebuild(txns []Transaction) *Ledger {
	l := New(nil)
	for _, txn := range txns {
		// Prices are not persisted per-row; a rebuild recovers contents
		// and weight, monetary totals need the catalog re-resolved by
		// the caller.
		_ = l.Apply(context.Background(), txn, 0, "")
	}
	return l
}
