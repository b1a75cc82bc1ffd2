package correlator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TxnIDGenerator produces transaction identifiers. Implemented by
// UUIDv7Generator (production) and SequentialGenerator (simulation and
// golden tests, where IDs must be stable across runs).
type TxnIDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction IDs.
// UUIDv7 embeds a timestamp in the most significant bits, so IDs sort by
// creation time - convenient when eyeballing a persisted ledger.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a new hyphenated UUIDv7 string.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialGenerator returns "prefix-0001", "prefix-0002", ... giving
// deterministic IDs for replayable simulations.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialGenerator creates a generator with the given prefix.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

// NewID returns the next sequential ID.
func (g *SequentialGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
