package theft

import (
	"fmt"
	"time"
)

// Config holds the per-vehicle detection thresholds.
type Config struct {
	// SpeedThresholdKmh is the speed above which a vehicle counts as moving.
	SpeedThresholdKmh float64 `json:"speed_threshold_kmh"`
	// MinDrop and MinDropFraction give the smallest suspicious drop, in
	// volume units and as a fraction of tank capacity. The larger applies.
	MinDrop         float64       `json:"min_drop"`
	MinDropFraction float64       `json:"min_drop_fraction"`
	MinDuration     time.Duration `json:"min_duration"`
	// RoundStepPct is the sensor quantisation step in percent. Drops within
	// RoundTolerancePct of a multiple are scaled by RoundPenalty.
	RoundStepPct      float64 `json:"round_step_pct"`
	RoundTolerancePct float64 `json:"round_tolerance_pct"`
	RoundPenalty      float64 `json:"round_penalty"`
	MinConfidence     float64 `json:"min_confidence"`
	// RecoveryFraction of the minimum drop below which a candidate clears.
	RecoveryFraction float64 `json:"recovery_fraction"`
	GeohashPrecision uint    `json:"geohash_precision"`
}

// Threshold returns the minimum suspicious drop for a tank.
func (c Config) Threshold(capacity float64) float64 {
	return max(c.MinDrop, c.MinDropFraction*capacity)
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.SpeedThresholdKmh < 0:
		return fmt.Errorf("speed_threshold_kmh must not be negative")
	case c.MinDrop <= 0 && c.MinDropFraction <= 0:
		return fmt.Errorf("a positive min_drop or min_drop_fraction is required")
	case c.MinDrop < 0 || c.MinDropFraction < 0 || c.MinDropFraction >= 1:
		return fmt.Errorf("min_drop_fraction must be within [0,1)")
	case c.MinDuration <= 0:
		return fmt.Errorf("min_duration must be positive")
	case c.RoundStepPct < 0 || c.RoundTolerancePct < 0:
		return fmt.Errorf("round step and tolerance must not be negative")
	case c.RoundPenalty <= 0 || c.RoundPenalty > 1:
		return fmt.Errorf("round_penalty must be within (0,1]")
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("min_confidence must be within [0,1]")
	case c.RecoveryFraction <= 0 || c.RecoveryFraction >= 1:
		return fmt.Errorf("recovery_fraction must be within (0,1)")
	case c.GeohashPrecision < 1 || c.GeohashPrecision > 12:
		return fmt.Errorf("geohash_precision must be within [1,12]")
	}
	return nil
}

// FleetConfig controls systemic pattern detection.
type FleetConfig struct {
	Window            time.Duration `json:"window"`
	FractionThreshold float64       `json:"fraction_threshold"`
	// MinVehicles avoids flagging a pattern in very small fleets.
	MinVehicles int `json:"min_vehicles"`
}

// Validate checks parameter ranges.
func (c FleetConfig) Validate() error {
	switch {
	case c.Window <= 0:
		return fmt.Errorf("window must be positive")
	case c.FractionThreshold <= 0 || c.FractionThreshold > 1:
		return fmt.Errorf("fraction_threshold must be within (0,1]")
	case c.MinVehicles < 1:
		return fmt.Errorf("min_vehicles must be >= 1")
	}
	return nil
}
