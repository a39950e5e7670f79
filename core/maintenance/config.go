package maintenance

import (
	"fmt"
	"math"
	"time"
)

// Direction tells which way a channel degrades.
type Direction string

const (
	Rising  Direction = "rising"
	Falling Direction = "falling"
)

// ChannelConfig is the failure threshold of one sensor channel.
type ChannelConfig struct {
	Threshold float64   `json:"threshold"`
	Direction Direction `json:"direction"`
}

// Config drives trend scoring for all monitored channels.
type Config struct {
	Channels map[string]ChannelConfig `json:"channels"`
	// MinSamples is the history needed before a projection is attempted.
	MinSamples int `json:"min_samples"`
	// FullConfidenceSamples is the sample count at which confidence is no
	// longer reduced for short histories.
	FullConfidenceSamples int `json:"full_confidence_samples"`
	MaxHistory            int `json:"max_history"`
	// Day-count breakpoints, each inclusive.
	CriticalDays float64 `json:"critical_days"`
	HighDays     float64 `json:"high_days"`
	MediumDays   float64 `json:"medium_days"`
	// TentativeBelow marks records with lower confidence as tentative.
	TentativeBelow float64       `json:"tentative_below"`
	ScoreInterval  time.Duration `json:"score_interval"`
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.MinSamples < 3:
		return fmt.Errorf("min_samples must be at least 3")
	case c.FullConfidenceSamples < c.MinSamples:
		return fmt.Errorf("full_confidence_samples must be >= min_samples")
	case c.MaxHistory < c.MinSamples:
		return fmt.Errorf("max_history must be >= min_samples")
	case !(0 < c.CriticalDays && c.CriticalDays < c.HighDays && c.HighDays < c.MediumDays):
		return fmt.Errorf("breakpoints must satisfy 0 < critical < high < medium")
	case c.TentativeBelow < 0 || c.TentativeBelow > 1:
		return fmt.Errorf("tentative_below must be within [0,1]")
	case c.ScoreInterval < 0:
		return fmt.Errorf("score_interval must not be negative")
	}
	for name, ch := range c.Channels {
		if ch.Direction != Rising && ch.Direction != Falling {
			return fmt.Errorf("channel %s: direction must be rising or falling", name)
		}
		if math.IsNaN(ch.Threshold) || math.IsInf(ch.Threshold, 0) {
			return fmt.Errorf("channel %s: threshold must be finite", name)
		}
	}
	return nil
}
