package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical localization defaults file.
const DefaultConfigPath = "config/localization.defaults.json"

// Scorer names accepted by the scorer field.
const (
	ScorerGaussian  = "gaussian"
	ScorerEuclidean = "euclidean"
)

// LocalizationConfig holds the tunables of the localization engine.
// Nil fields fall back to the defaults returned by the Get* accessors, so a
// partial file only overrides what it names.
type LocalizationConfig struct {
	// Session
	TrackInterval   *string `json:"track_interval,omitempty"`   // duration string like "1s"
	RetentionWindow *string `json:"retention_window,omitempty"` // duration string like "10s"

	// Collection
	SampleWindow      *string `json:"sample_window,omitempty"`       // "0s" disables auto-sampling
	MaxHandles        *int    `json:"max_handles,omitempty"`         // 0 means unlimited
	HandleIdleTimeout *string `json:"handle_idle_timeout,omitempty"` // "0s" keeps idle handles

	// Classifier
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	Scorer              *string  `json:"scorer,omitempty"`
	VarianceFloor       *float64 `json:"variance_floor,omitempty"`      // dB², gaussian
	ExtraBeaconWeight   *float64 `json:"extra_beacon_weight,omitempty"` // gaussian
	MissingRSSI         *float64 `json:"missing_rssi,omitempty"`        // dBm, euclidean
	DistanceScale       *float64 `json:"distance_scale,omitempty"`      // dB, euclidean
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyLocalizationConfig returns a config with every field unset.
func EmptyLocalizationConfig() *LocalizationConfig {
	return &LocalizationConfig{}
}

// DefaultLocalizationConfig returns a config with every field set to its
// default value.
func DefaultLocalizationConfig() *LocalizationConfig {
	return &LocalizationConfig{
		TrackInterval:       ptrString("1s"),
		RetentionWindow:     ptrString("10s"),
		SampleWindow:        ptrString("5s"),
		MaxHandles:          ptrInt(32),
		HandleIdleTimeout:   ptrString("10m"),
		ConfidenceThreshold: ptrFloat64(0.3),
		Scorer:              ptrString(ScorerGaussian),
		VarianceFloor:       ptrFloat64(16),
		ExtraBeaconWeight:   ptrFloat64(0.25),
		MissingRSSI:         ptrFloat64(-100),
		DistanceScale:       ptrFloat64(10),
	}
}

// LoadLocalizationConfig loads a LocalizationConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadLocalizationConfig(path string) (*LocalizationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyLocalizationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *LocalizationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadLocalizationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set field holds a usable value.
func (c *LocalizationConfig) Validate() error {
	durations := []struct {
		name     string
		value    *string
		positive bool
	}{
		{"track_interval", c.TrackInterval, true},
		{"retention_window", c.RetentionWindow, true},
		{"sample_window", c.SampleWindow, false},
		{"handle_idle_timeout", c.HandleIdleTimeout, false},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 || (d.positive && v == 0) {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.MaxHandles != nil && *c.MaxHandles < 0 {
		return fmt.Errorf("max_handles must not be negative, got %d", *c.MaxHandles)
	}
	if c.ConfidenceThreshold != nil {
		if v := *c.ConfidenceThreshold; math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", v)
		}
	}
	if c.Scorer != nil && *c.Scorer != "" {
		switch *c.Scorer {
		case ScorerGaussian, ScorerEuclidean:
		default:
			return fmt.Errorf("unknown scorer %q (want %q or %q)", *c.Scorer, ScorerGaussian, ScorerEuclidean)
		}
	}
	if c.VarianceFloor != nil && !(*c.VarianceFloor > 0) {
		return fmt.Errorf("variance_floor must be positive, got %f", *c.VarianceFloor)
	}
	if c.ExtraBeaconWeight != nil {
		if v := *c.ExtraBeaconWeight; math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("extra_beacon_weight must be between 0 and 1, got %f", v)
		}
	}
	if c.MissingRSSI != nil {
		if v := *c.MissingRSSI; math.IsNaN(v) || v > 0 {
			return fmt.Errorf("missing_rssi must be a non-positive dBm value, got %f", v)
		}
	}
	if c.DistanceScale != nil && !(*c.DistanceScale > 0) {
		return fmt.Errorf("distance_scale must be positive, got %f", *c.DistanceScale)
	}
	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetTrackInterval returns the classification cycle period.
func (c *LocalizationConfig) GetTrackInterval() time.Duration {
	return parseDurationOr(c.TrackInterval, time.Second)
}

// GetRetentionWindow returns how long live measurements are kept.
func (c *LocalizationConfig) GetRetentionWindow() time.Duration {
	return parseDurationOr(c.RetentionWindow, 10*time.Second)
}

// GetSampleWindow returns the span after which pending collection
// measurements fold into a sample. Zero disables auto-sampling.
func (c *LocalizationConfig) GetSampleWindow() time.Duration {
	return parseDurationOr(c.SampleWindow, 5*time.Second)
}

// GetMaxHandles returns how many explicit collection handles may be open
// at once. Zero means unlimited.
func (c *LocalizationConfig) GetMaxHandles() int {
	if c.MaxHandles == nil {
		return 32
	}
	return *c.MaxHandles
}

// GetHandleIdleTimeout returns how long an explicit collection handle may
// go unused before it is discarded. Zero keeps idle handles.
func (c *LocalizationConfig) GetHandleIdleTimeout() time.Duration {
	return parseDurationOr(c.HandleIdleTimeout, 10*time.Minute)
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *LocalizationConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.3
	}
	return *c.ConfidenceThreshold
}

// GetScorer returns the scorer name or the default.
func (c *LocalizationConfig) GetScorer() string {
	if c.Scorer == nil || *c.Scorer == "" {
		return ScorerGaussian
	}
	return *c.Scorer
}

// GetVarianceFloor returns the variance_floor value or the default.
func (c *LocalizationConfig) GetVarianceFloor() float64 {
	if c.VarianceFloor == nil {
		return 16
	}
	return *c.VarianceFloor
}

// GetExtraBeaconWeight returns the extra_beacon_weight value or the default.
func (c *LocalizationConfig) GetExtraBeaconWeight() float64 {
	if c.ExtraBeaconWeight == nil {
		return 0.25
	}
	return *c.ExtraBeaconWeight
}

// GetMissingRSSI returns the missing_rssi value or the default.
func (c *LocalizationConfig) GetMissingRSSI() float64 {
	if c.MissingRSSI == nil {
		return -100
	}
	return *c.MissingRSSI
}

// GetDistanceScale returns the distance_scale value or the default.
func (c *LocalizationConfig) GetDistanceScale() float64 {
	if c.DistanceScale == nil {
		return 10
	}
	return *c.DistanceScale
}
