// Package efficiency turns distance and consumed-fuel deltas into a smoothed
// distance-per-fuel figure. A window only closes once both minimums are met,
// so partial windows never produce a value.
package efficiency

import (
	"fmt"
	"math"

	"github.com/kilianp07/fueltrack/core/fault"
)

const op = "efficiency.accumulate"

// tolerance absorbs float drift when deltas sum exactly to a minimum.
const tolerance = 1e-9

// Config holds the window thresholds and plausibility bounds for a vehicle class.
type Config struct {
	MinDistanceKm float64 `json:"min_distance_km"`
	MinFuel       float64 `json:"min_fuel"`
	// MinEfficiency and MaxEfficiency bound a plausible sample in km per
	// volume unit.
	MinEfficiency float64 `json:"min_efficiency"`
	MaxEfficiency float64 `json:"max_efficiency"`
	// Alpha is the weight of a new sample in the exponential average.
	Alpha float64 `json:"alpha"`
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.MinDistanceKm <= 0:
		return fmt.Errorf("min_distance_km must be positive")
	case c.MinFuel <= 0:
		return fmt.Errorf("min_fuel must be positive")
	case c.MinEfficiency < 0 || c.MaxEfficiency <= c.MinEfficiency:
		return fmt.Errorf("efficiency bounds must satisfy 0 <= min < max")
	case c.Alpha <= 0 || c.Alpha > 1:
		return fmt.Errorf("alpha must be within (0,1]")
	}
	return nil
}

// State is the per-vehicle window accumulator.
type State struct {
	DistanceDelta float64 `json:"distance_delta"`
	FuelDelta     float64 `json:"fuel_delta"`
	Smoothed      float64 `json:"smoothed"`
	// Windows counts the samples folded into Smoothed.
	Windows  int `json:"windows"`
	Rejected int `json:"rejected"`
}

// Sample is produced each time a window closes.
type Sample struct {
	Value    float64 `json:"value"`
	Distance float64 `json:"distance"`
	Fuel     float64 `json:"fuel"`
	// Accepted is false when Value fell outside the plausible range. Such
	// samples never reach Smoothed.
	Accepted bool    `json:"accepted"`
	Smoothed float64 `json:"smoothed"`
}

// Accumulate adds one pair of deltas. Negative deltas are clamped to zero.
// A non-nil sample is returned when the window closed.
func (s *State) Accumulate(cfg Config, distanceDelta, fuelDelta float64) (*Sample, error) {
	if !finite(distanceDelta) || !finite(fuelDelta) {
		return nil, fault.Invariantf(op, "non-finite delta distance=%v fuel=%v", distanceDelta, fuelDelta)
	}
	s.DistanceDelta += math.Max(distanceDelta, 0)
	s.FuelDelta += math.Max(fuelDelta, 0)

	if !reached(s.DistanceDelta, cfg.MinDistanceKm) || !reached(s.FuelDelta, cfg.MinFuel) {
		return nil, nil
	}

	sample := &Sample{
		Value:    s.DistanceDelta / s.FuelDelta,
		Distance: s.DistanceDelta,
		Fuel:     s.FuelDelta,
	}
	s.DistanceDelta, s.FuelDelta = 0, 0

	if sample.Value < cfg.MinEfficiency || sample.Value > cfg.MaxEfficiency {
		s.Rejected++
		sample.Smoothed = s.Smoothed
		return sample, nil
	}
	if s.Windows == 0 {
		s.Smoothed = sample.Value
	} else {
		s.Smoothed = cfg.Alpha*sample.Value + (1-cfg.Alpha)*s.Smoothed
	}
	s.Windows++
	sample.Accepted = true
	sample.Smoothed = s.Smoothed
	return sample, nil
}

// Efficiency returns the smoothed value, or nil before the first accepted window.
func (s *State) Efficiency() *float64 {
	if s.Windows == 0 {
		return nil
	}
	v := s.Smoothed
	return &v
}

// Validate checks a restored state.
func (s State) Validate(cfg Config) error {
	const restore = "efficiency.restore"
	if !finite(s.DistanceDelta) || !finite(s.FuelDelta) || !finite(s.Smoothed) {
		return fault.Invariantf(restore, "non-finite accumulator")
	}
	if s.DistanceDelta < 0 || s.FuelDelta < 0 || s.Windows < 0 || s.Rejected < 0 {
		return fault.Invariantf(restore, "negative accumulator")
	}
	if s.Windows > 0 && (s.Smoothed < cfg.MinEfficiency || s.Smoothed > cfg.MaxEfficiency) {
		return fault.Invariantf(restore, "smoothed value %v outside plausible range", s.Smoothed)
	}
	return nil
}

func reached(v, minimum float64) bool {
	return v >= minimum*(1-tolerance)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
