package theft

import (
	"math"
	"time"

	"github.com/kilianp07/fueltrack/core/fault"
	"github.com/kilianp07/fueltrack/core/model"
)

// Tracker follows the estimate stream of one vehicle and turns sustained
// stationary drops into Evaluate calls.
type Tracker struct {
	Baseline    float64   `json:"baseline"`
	HasBaseline bool      `json:"has_baseline"`
	Candidate   bool      `json:"candidate"`
	DropStart   time.Time `json:"drop_start"`
}

// Observe feeds one estimate. At most one event is returned per drop.
func (t *Tracker) Observe(cfg Config, capacity, level float64, ts time.Time, motion Motion) *model.TheftEvent {
	if !motion.Stationary(cfg) || !t.HasBaseline {
		t.Rebase(level)
		return nil
	}
	if level >= t.Baseline {
		t.Rebase(level)
		return nil
	}

	threshold := cfg.Threshold(capacity)
	drop := t.Baseline - level
	switch {
	case drop < threshold*cfg.RecoveryFraction:
		t.Candidate = false
		return nil
	case drop < threshold:
		return nil
	}

	if !t.Candidate {
		t.Candidate = true
		t.DropStart = ts
	}
	ev := Evaluate(cfg, capacity, Drop{Before: t.Baseline, After: level}, ts.Sub(t.DropStart), motion)
	if ev != nil {
		t.Rebase(level)
	}
	return ev
}

// Rebase restarts tracking from level. It is called after refuels and while
// the vehicle moves.
func (t *Tracker) Rebase(level float64) {
	t.Baseline = level
	t.HasBaseline = true
	t.Candidate = false
	t.DropStart = time.Time{}
}

// Validate checks a restored tracker against the tank capacity.
func (t Tracker) Validate(capacity float64) error {
	if !t.HasBaseline {
		return nil
	}
	if math.IsNaN(t.Baseline) || t.Baseline < 0 || t.Baseline > capacity {
		return fault.Invariantf("theft.restore", "baseline %v outside [0,%v]", t.Baseline, capacity)
	}
	if t.Candidate && t.DropStart.IsZero() {
		return fault.Invariantf("theft.restore", "candidate without drop start")
	}
	return nil
}
