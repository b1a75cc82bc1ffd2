package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartkart/kart/internal/catalog"
	"github.com/smartkart/kart/internal/ledger"
	"github.com/smartkart/kart/internal/notify"
)

func fptr(v float64) *float64 { return &v }

func TestRun_ScanThenSettle(t *testing.T) {
	sc := &Scenario{
		Name: "inline_exact",
		Feed: []FeedStep{
			{At: 0, Scan: &ScanStep{Product: "7501234567890", Confidence: 0.98}},
			{At: 0.5, Settle: fptr(200)},
		},
		Expect: []Expectation{
			{Product: "7501234567890", Direction: "added", Quality: "exact"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)

	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "txn-0001", res.Transactions[0].ID)
	assert.Equal(t, map[string]int{"7501234567890": 1}, res.Contents)
	assert.InDelta(t, 1.99, res.Summary.TotalPrice, 0.001)
	assert.Equal(t, []string{"Apple"}, res.Summary.Products)

	require.Len(t, res.Notifications, 1)
	assert.Equal(t, notify.KindSuccess, res.Notifications[0].Kind)
}

func TestRun_ExpectationMismatchReported(t *testing.T) {
	sc := &Scenario{
		Name: "inline_mismatch",
		Feed: []FeedStep{
			{At: 0, Settle: fptr(200)},
		},
		Expect: []Expectation{
			{Product: "7501234567890", Direction: "added", Quality: "exact"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, res.Passed())
	assert.NotEmpty(t, res.Failures)
}

func TestRun_CountMismatchReported(t *testing.T) {
	sc := &Scenario{
		Name: "inline_count",
		Feed: []FeedStep{
			{At: 0, Settle: fptr(200)},
		},
		Expect: []Expectation{
			{Direction: "added", Quality: "unmatched_weight"},
			{Direction: "added", Quality: "unmatched_weight"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0], "expected 2 transactions, got 1")
}

func TestRun_ConfigOverrides(t *testing.T) {
	// A 30g delta: invisible at the default 10g threshold only because
	// the override raises it to 50g.
	sc := &Scenario{
		Name:   "inline_override",
		Config: ConfigOverride{ThresholdG: 50},
		Feed: []FeedStep{
			{At: 0, Settle: fptr(30)},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
}

func TestRun_SettleExpandsToConfiguredSamples(t *testing.T) {
	// With settle_samples raised to 5, a settle step still settles in
	// one step because the expansion tracks the config.
	sc := &Scenario{
		Name:   "inline_settle_samples",
		Config: ConfigOverride{SettleSamples: 5},
		Feed: []FeedStep{
			{At: 0, Settle: fptr(200)},
		},
		Expect: []Expectation{
			{Direction: "added", Quality: "unmatched_weight"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)
}

func TestRun_ScenarioCatalog(t *testing.T) {
	sc := &Scenario{
		Name: "inline_catalog",
		Catalog: []catalog.Product{
			{ID: "SKU123", Name: "Pasta", Price: 2.49, WeightGrams: 500},
		},
		Feed: []FeedStep{
			{At: 0, Scan: &ScanStep{Product: "SKU123", Confidence: 0.95}},
			{At: 0.5, Delta: fptr(500)},
		},
		Expect: []Expectation{
			{Product: "SKU123", Direction: "added", Quality: "exact"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)
	assert.Equal(t, []string{"Pasta"}, res.Summary.Products)
}

func TestRun_ClassifierVerdicts(t *testing.T) {
	sc := &Scenario{
		Name: "inline_classifier",
		Classifier: map[string]Verdict{
			"7501234567890": {Product: "7501234567890", Confidence: 0.9},
		},
		Feed: []FeedStep{
			{At: 0, Scan: &ScanStep{Product: "7501234567890", Source: "rfid", Confidence: 0.4}},
			{At: 0.5, Settle: fptr(200)},
		},
		Expect: []Expectation{
			{Product: "7501234567890", Direction: "added", Quality: "within_tolerance"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)
}

func TestRun_UnknownScanSource(t *testing.T) {
	sc := &Scenario{
		Name: "inline_bad_source",
		Feed: []FeedStep{
			{At: 0, Scan: &ScanStep{Product: "SKU123", Source: "telepathy", Confidence: 1}},
		},
	}

	_, err := Run(sc)
	assert.Error(t, err)
}

func TestRun_Deterministic(t *testing.T) {
	sc := &Scenario{
		Name: "inline_determinism",
		Feed: []FeedStep{
			{At: 0, Scan: &ScanStep{Product: "7501234567890", Confidence: 0.98}},
			{At: 0.5, Settle: fptr(200)},
			{At: 2, Settle: fptr(550)},
			{At: 4, Scan: &ScanStep{Product: "5901234123457", Confidence: 0.9}},
			{At: 10, Advance: true},
		},
	}

	first, err := Run(sc)
	require.NoError(t, err)
	second, err := Run(sc)
	require.NoError(t, err)

	assert.Equal(t, first.Transactions, second.Transactions)
	assert.Equal(t, first.Contents, second.Contents)
}

func TestSnapshot_OffsetsRelativeToBase(t *testing.T) {
	txns := []ledger.Transaction{
		{
			ID: "txn-0001", Seq: 1, ProductID: "SKU123",
			Direction: ledger.DirAdded, Quality: ledger.QualityExact,
			ExpectedWeight: 150, ObservedDelta: 150,
			At: BaseTime.Add(520_000_000),
		},
	}

	snap := Snapshot("offsets", txns)
	require.Len(t, snap.Trace, 1)
	assert.InDelta(t, 0.52, snap.Trace[0].AtOffsetS, 0.0001)

	data, err := snap.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario": "offsets"`)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}
