// Package config loads the controller configuration: YAML file over
// defaults, with KART_-prefixed environment overrides. All values are
// read once at construction; there is no hot reload. Invalid thresholds
// are fatal - the controller refuses to start rather than run with a
// nonsensical tolerance.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all controller configuration.
type Config struct {
	Weight     WeightConfig     `mapstructure:"weight"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Sensors    SensorConfig     `mapstructure:"sensors"`
}

// WeightConfig tunes the weight tracker and tolerance checks.
type WeightConfig struct {
	ThresholdGrams    float64 `mapstructure:"threshold_g"`
	ToleranceFraction float64 `mapstructure:"tolerance_fraction"`
	SettleSamples     int     `mapstructure:"settle_samples"`
}

// ScanConfig tunes the scan buffer and confidence gating.
type ScanConfig struct {
	TimeoutSeconds      float64 `mapstructure:"timeout_seconds"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// ClassifierConfig bounds the escalation collaborator.
type ClassifierConfig struct {
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
}

// NotifyConfig sizes the feedback dispatch channel.
type NotifyConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// LedgerConfig points at the optional persistence database.
type LedgerConfig struct {
	Database string `mapstructure:"database"`
}

// SensorConfig tunes housekeeping and liveness supervision.
type SensorConfig struct {
	SweepIntervalMillis int     `mapstructure:"sweep_interval_ms"`
	LivenessSeconds     float64 `mapstructure:"liveness_seconds"`
	SampleHz            float64 `mapstructure:"sample_hz"`
}

// ScanTimeout returns the scan match window as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scan.TimeoutSeconds * float64(time.Second))
}

// ClassifierTimeout returns the escalation deadline as a duration.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds * float64(time.Second))
}

// SweepInterval returns the housekeeping cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sensors.SweepIntervalMillis) * time.Millisecond
}

// Liveness returns the sensor silence deadline as a duration.
func (c *Config) Liveness() time.Duration {
	return time.Duration(c.Sensors.LivenessSeconds * float64(time.Second))
}

// Load reads configuration from an optional YAML file, environment
// variables, and defaults, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("KART")
	// Nested keys use dots; env vars use underscores throughout, so
	// weight.threshold_g reads from KART_WEIGHT_THRESHOLD_G.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration, bypassing files and env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err) // defaults are static and always decode
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("weight.threshold_g", 10.0)
	v.SetDefault("weight.tolerance_fraction", 0.10)
	v.SetDefault("weight.settle_samples", 3)

	v.SetDefault("scan.timeout_seconds", 2.0)
	v.SetDefault("scan.confidence_threshold", 0.7)

	v.SetDefault("classifier.timeout_seconds", 1.0)

	v.SetDefault("notify.buffer", 16)

	v.SetDefault("ledger.database", "")

	v.SetDefault("sensors.sweep_interval_ms", 500)
	v.SetDefault("sensors.liveness_seconds", 10.0)
	v.SetDefault("sensors.sample_hz", 4.0)
}

func validate(cfg *Config) error {
	if cfg.Weight.ThresholdGrams <= 0 {
		return fmt.Errorf("weight.threshold_g must be positive, got %v", cfg.Weight.ThresholdGrams)
	}
	if cfg.Weight.ToleranceFraction <= 0 || cfg.Weight.ToleranceFraction >= 1 {
		return fmt.Errorf("weight.tolerance_fraction must be in (0,1), got %v", cfg.Weight.ToleranceFraction)
	}
	if cfg.Weight.SettleSamples < 2 {
		return fmt.Errorf("weight.settle_samples must be at least 2, got %d", cfg.Weight.SettleSamples)
	}
	if cfg.Scan.TimeoutSeconds <= 0 {
		return fmt.Errorf("scan.timeout_seconds must be positive, got %v", cfg.Scan.TimeoutSeconds)
	}
	if cfg.Scan.ConfidenceThreshold < 0 || cfg.Scan.ConfidenceThreshold > 1 {
		return fmt.Errorf("scan.confidence_threshold must be in [0,1], got %v", cfg.Scan.ConfidenceThreshold)
	}
	if cfg.Classifier.TimeoutSeconds <= 0 {
		return fmt.Errorf("classifier.timeout_seconds must be positive, got %v", cfg.Classifier.TimeoutSeconds)
	}
	if cfg.Notify.Buffer < 1 {
		return fmt.Errorf("notify.buffer must be at least 1, got %d", cfg.Notify.Buffer)
	}
	if cfg.Sensors.SweepIntervalMillis < 1 {
		return fmt.Errorf("sensors.sweep_interval_ms must be at least 1, got %d", cfg.Sensors.SweepIntervalMillis)
	}
	if cfg.Sensors.SampleHz <= 0 {
		return fmt.Errorf("sensors.sample_hz must be positive, got %v", cfg.Sensors.SampleHz)
	}
	return nil
}
