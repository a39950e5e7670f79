// Package theft flags fuel drops that consumption does not explain and groups
// correlated anomalies across a fleet.
package theft

import (
	"math"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/kilianp07/fueltrack/core/model"
)

// Drop is a level change between a stable baseline and the current estimate.
type Drop struct {
	Before float64
	After  float64
}

// Magnitude returns the size of the drop. Rises yield a negative value.
func (d Drop) Magnitude() float64 { return d.Before - d.After }

// Motion is what is known about the vehicle movement at evaluation time.
type Motion struct {
	// SpeedKmh is nil when the vehicle does not report speed.
	SpeedKmh *float64
	Lat      *float64
	Lon      *float64
}

// Stationary reports whether the vehicle is known to stand still. An unknown
// speed is not stationary.
func (m Motion) Stationary(cfg Config) bool {
	if m.SpeedKmh == nil || math.IsNaN(*m.SpeedKmh) {
		return false
	}
	return *m.SpeedKmh <= cfg.SpeedThresholdKmh
}

// Evaluate decides whether a drop that lasted for duration is a theft
// candidate. capacity is the tank size used for relative thresholds.
func Evaluate(cfg Config, capacity float64, drop Drop, duration time.Duration, motion Motion) *model.TheftEvent {
	if !motion.Stationary(cfg) {
		return nil
	}
	threshold := cfg.Threshold(capacity)
	mag := drop.Magnitude()
	if mag < threshold || duration < cfg.MinDuration {
		return nil
	}

	conf := score(mag, threshold) * score(duration.Seconds(), cfg.MinDuration.Seconds())
	if isRound(cfg, mag/capacity*100) {
		conf *= cfg.RoundPenalty
	}
	if conf < cfg.MinConfidence {
		return nil
	}

	ev := &model.TheftEvent{
		LevelBefore: drop.Before,
		LevelAfter:  drop.After,
		Magnitude:   mag,
		Duration:    duration,
		Confidence:  model.ClampConfidence(conf),
		Action:      model.ActionInvestigateTheft,
	}
	if motion.Lat != nil && motion.Lon != nil {
		ev.Geohash = geohash.EncodeWithPrecision(*motion.Lat, *motion.Lon, cfg.GeohashPrecision)
	}
	return ev
}

// score maps v >= minimum to [0.5, 1], saturating at twice the minimum.
func score(v, minimum float64) float64 {
	if minimum <= 0 {
		return 1
	}
	return 0.5 + 0.5*math.Min(1, (v-minimum)/minimum)
}

// isRound reports whether pct sits on a multiple of the quantisation step.
func isRound(cfg Config, pct float64) bool {
	if cfg.RoundStepPct <= 0 {
		return false
	}
	rem := math.Mod(pct, cfg.RoundStepPct)
	return rem <= cfg.RoundTolerancePct || cfg.RoundStepPct-rem <= cfg.RoundTolerancePct
}
