package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/smartkart/kart/internal/ledger"
)

// TraceSnapshot is the serialized form of a scenario's transaction
// sequence, compared byte-for-byte against golden files. Offsets replace
// absolute times so the snapshot reads like the scenario feed.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEntry `json:"trace"`
}

// TraceEntry is one committed transaction in the snapshot.
type TraceEntry struct {
	ID        string  `json:"id"`
	Seq       int64   `json:"seq"`
	Product   string  `json:"product,omitempty"`
	Direction string  `json:"direction"`
	Quality   string  `json:"quality"`
	ExpectedG float64 `json:"expected_g"`
	ObservedG float64 `json:"observed_g"`
	AtOffsetS float64 `json:"at_offset_s"`
}

// Snapshot builds the trace snapshot for a result.
func Snapshot(name string, txns []ledger.Transaction) *TraceSnapshot {
	trace := make([]TraceEntry, len(txns))
	for i, txn := range txns {
		trace[i] = TraceEntry{
			ID:        txn.ID,
			Seq:       txn.Seq,
			Product:   txn.ProductID,
			Direction: string(txn.Direction),
			Quality:   string(txn.Quality),
			ExpectedG: txn.ExpectedWeight,
			ObservedG: txn.ObservedDelta,
			AtOffsetS: txn.At.Sub(BaseTime).Seconds(),
		}
	}
	return &TraceSnapshot{Scenario: name, Trace: trace}
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal trace snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(sc)
	if err != nil {
		return nil, err
	}

	data, err := Snapshot(sc.Name, result.Transactions).Marshal()
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)

	return result, nil
}
