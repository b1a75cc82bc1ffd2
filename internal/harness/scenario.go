// Package harness executes simulation scenarios against the real
// correlator. A scenario is a literal, timed feed of sensor events plus
// the transaction sequence it must produce; replaying one is the
// determinism contract of the whole controller.
package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smartkart/kart/internal/catalog"
)

// Scenario defines one simulation run.
type Scenario struct {
	// Name uniquely identifies this scenario; it is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Config overrides the default thresholds. Zero-valued fields keep
	// their defaults.
	Config ConfigOverride `yaml:"config,omitempty"`

	// Catalog replaces the builtin demo catalog when non-empty.
	Catalog []catalog.Product `yaml:"catalog,omitempty"`

	// Classifier defines canned verdicts for escalations, keyed by the
	// scanned product ID. Products absent here never resolve.
	Classifier map[string]Verdict `yaml:"classifier,omitempty"`

	// Feed is the literal event sequence, in intake order. Step offsets
	// are seconds from the scenario's fixed base time.
	Feed []FeedStep `yaml:"feed"`

	// Expect is the exact ordered transaction sequence the feed must
	// produce. Empty means no assertion beyond the golden trace.
	Expect []Expectation `yaml:"expect,omitempty"`
}

// ConfigOverride adjusts correlation thresholds for one scenario.
type ConfigOverride struct {
	ThresholdG          float64 `yaml:"threshold_g,omitempty"`
	ToleranceFraction   float64 `yaml:"tolerance_fraction,omitempty"`
	ScanTimeoutS        float64 `yaml:"scan_timeout_s,omitempty"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"`
	SettleSamples       int     `yaml:"settle_samples,omitempty"`
}

// Verdict is a canned classifier result.
type Verdict struct {
	Product    string  `yaml:"product"`
	Confidence float64 `yaml:"confidence"`
}

// FeedStep is one timed entry in the feed. Exactly one of the action
// fields must be set.
type FeedStep struct {
	// At is the event timestamp as seconds from the base time.
	At float64 `yaml:"at"`

	// Scan emits a product scan.
	Scan *ScanStep `yaml:"scan,omitempty"`

	// Sample emits one raw weight reading in grams.
	Sample *float64 `yaml:"sample,omitempty"`

	// Settle emits enough identical readings to settle the scale at the
	// given weight - shorthand for settle_samples Sample steps.
	Settle *float64 `yaml:"settle,omitempty"`

	// Delta emits a pre-settled weight change directly, as a producer
	// with its own settling would.
	Delta *float64 `yaml:"delta,omitempty"`

	// Advance emits a housekeeping tick at this offset.
	Advance bool `yaml:"advance,omitempty"`

	// Tare re-zeroes the scale baseline.
	Tare bool `yaml:"tare,omitempty"`
}

// ScanStep describes a scan event.
type ScanStep struct {
	Product    string  `yaml:"product"`
	Source     string  `yaml:"source,omitempty"` // barcode (default) | rfid
	Confidence float64 `yaml:"confidence"`
}

// Expectation is one expected transaction, matched in order.
type Expectation struct {
	Product   string `yaml:"product,omitempty"`
	Direction string `yaml:"direction"`
	Quality   string `yaml:"quality"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo fails the scenario instead of silently skipping an
// assertion.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(sc.Feed) == 0 {
		return fmt.Errorf("empty feed")
	}
	for i, step := range sc.Feed {
		actions := 0
		if step.Scan != nil {
			actions++
			if step.Scan.Product == "" {
				return fmt.Errorf("feed[%d]: scan without product", i)
			}
		}
		if step.Sample != nil {
			actions++
		}
		if step.Settle != nil {
			actions++
		}
		if step.Delta != nil {
			actions++
		}
		if step.Advance {
			actions++
		}
		if step.Tare {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("feed[%d]: exactly one action per step, got %d", i, actions)
		}
		if step.At < 0 {
			return fmt.Errorf("feed[%d]: negative offset", i)
		}
	}
	return nil
}
