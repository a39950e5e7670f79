// Package maintenance projects sensor channel trends to their failure
// threshold and grades the remaining useful life.
package maintenance

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/fueltrack/core/model"
)

// Point is one channel observation.
type Point struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

const day = 24 * time.Hour

// Score fits a linear trend to history and projects it to the channel
// threshold. Histories shorter than MinSamples, or spanning no time, yield an
// insufficient-data record.
func Score(cfg Config, channel string, ch ChannelConfig, history []Point) model.MaintenanceRiskRecord {
	rec := model.MaintenanceRiskRecord{
		Channel:   channel,
		Status:    model.MaintenanceInsufficientData,
		Samples:   len(history),
		Threshold: ch.Threshold,
	}
	n := len(history)
	if n < cfg.MinSamples {
		return rec
	}
	origin := history[0].Timestamp
	span := history[n-1].Timestamp.Sub(origin)
	if span <= 0 {
		return rec
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range history {
		xs[i] = float64(p.Timestamp.Sub(origin)) / float64(day)
		ys[i] = p.Value
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) {
		// Zero variance in the values: a flat line fits exactly.
		r2 = 1
	}
	r2 = math.Max(0, math.Min(1, r2))

	rec.Status = model.MaintenanceScored
	rec.Slope = beta
	rec.LastValue = history[n-1].Value
	rec.RSquared = r2
	rec.DaysToThreshold = project(ch, rec.LastValue, alpha+beta*xs[n-1], beta)
	rec.Risk = classify(cfg, rec.DaysToThreshold)

	sampleFactor := math.Min(1, float64(n)/float64(cfg.FullConfidenceSamples))
	rec.Confidence = model.ClampConfidence(r2 * sampleFactor)
	rec.Tentative = rec.Confidence.Float64() < cfg.TentativeBelow
	return rec
}

// project returns the days until the fitted line reaches the threshold, zero
// when the channel is already past it, and nil when the trend moves away.
func project(ch ChannelConfig, last, fitted, slope float64) *float64 {
	gap := ch.Threshold - fitted
	if ch.Direction == Falling {
		gap, slope = -gap, -slope
		if last <= ch.Threshold {
			return ptr(0)
		}
	} else if last >= ch.Threshold {
		return ptr(0)
	}
	if gap <= 0 {
		return ptr(0)
	}
	if slope <= 0 {
		return nil
	}
	return ptr(gap / slope)
}

func classify(cfg Config, days *float64) model.RiskLevel {
	if days == nil {
		return model.RiskLow
	}
	switch d := *days; {
	case d <= cfg.CriticalDays:
		return model.RiskCritical
	case d <= cfg.HighDays:
		return model.RiskHigh
	case d <= cfg.MediumDays:
		return model.RiskMedium
	}
	return model.RiskLow
}

func ptr(v float64) *float64 { return &v }
