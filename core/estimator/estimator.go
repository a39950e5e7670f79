// Package estimator tracks the fuel level of one vehicle with a scalar
// predict/correct filter.
//
// The measurement noise adapts to sensor bias. When the residuals of the last
// BiasWindow readings all share a sign, the next correction trusts the sensor
// less. The seeding reading counts as the first reading of a window.
// A rise above the refuel threshold resets the filter instead of letting it
// catch up. Invalid readings are skipped and counted. Past the escalation
// threshold the filter keeps running on the consumption model alone.
package estimator

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/fueltrack/core/fault"
	"github.com/kilianp07/fueltrack/core/model"
)

const op = "estimator.update"

// State is the per-vehicle filter state. The zero value is an uninitialised
// filter that seeds itself from the first valid reading.
type State struct {
	Initialized bool    `json:"initialized"`
	Level       float64 `json:"level"`
	Uncertainty float64 `json:"uncertainty"`
	// Innovations holds the residuals of the most recent readings, oldest
	// first. A window of N readings holds N-1 residuals.
	Innovations   []float64 `json:"innovations"`
	BiasDetected  bool      `json:"bias_detected"`
	BiasMagnitude float64   `json:"bias_magnitude"`
	SkipCount     int       `json:"sensor_skip_count"`
	FaultRaised   bool      `json:"fault_raised"`
	LastUpdate    time.Time `json:"last_update"`
}

// Input is one sample as seen by the filter.
type Input struct {
	// Reading is the raw tank percentage. Nil counts as an invalid reading.
	Reading *float64
	// DistanceKm is the distance driven since the last filter update.
	DistanceKm float64
	// FuelRate is the reported consumption in volume units per hour.
	FuelRate  *float64
	Timestamp time.Time
}

// Snapshot is the read-only view of the filter after an update.
type Snapshot struct {
	Timestamp     time.Time `json:"ts"`
	Level         float64   `json:"level"`
	LevelPct      float64   `json:"level_pct"`
	Uncertainty   float64   `json:"uncertainty"`
	BiasDetected  bool      `json:"bias_detected"`
	BiasMagnitude float64   `json:"bias_magnitude"`
	// EffectiveNoise is the measurement noise the next correction will use.
	EffectiveNoise float64 `json:"effective_noise"`
	SkipCount      int     `json:"sensor_skip_count"`
	Degraded       bool    `json:"degraded"`
	Initialized    bool    `json:"initialized"`
}

// Result describes what one update did.
type Result struct {
	Snapshot Snapshot
	// Corrected is true when a reading was folded into the estimate.
	Corrected bool
	// Seeded is true when the update initialised the filter.
	Seeded bool
	// Predicted is true when the level advanced without a reading.
	Predicted bool
	// Consumed is the level decrease since the previous estimate. It can be
	// negative when a correction raises the estimate.
	Consumed float64
	// Innovation is the residual of the correction, if any.
	Innovation  float64
	Refuel      *model.RefuelEvent
	SensorFault *model.SensorFaultEvent
	// Recovered is set when a valid reading clears a raised sensor fault.
	Recovered bool
}

// Update applies one sample. The state is only modified when the returned
// error is nil or of class Transient or Persistent. Internal errors leave the
// state untouched.
func (s *State) Update(cfg Config, in Input) (Result, error) {
	if !s.LastUpdate.IsZero() && !in.Timestamp.After(s.LastUpdate) {
		return Result{Snapshot: s.snapshot(cfg)}, &fault.Error{Class: fault.Internal, Op: op, Err: fault.ErrOutOfOrder}
	}

	next := s.clone()
	var (
		res Result
		err error
	)
	if pct, ok := validReading(in.Reading); ok {
		res = next.correct(cfg, in, pct)
	} else {
		res, err = next.skip(cfg, in)
	}

	if verr := next.check(cfg); verr != nil {
		return Result{Snapshot: s.snapshot(cfg)}, verr
	}
	*s = next
	res.Snapshot = s.snapshot(cfg)
	return res, err
}

// Snapshot returns the current view without modifying the state.
func (s *State) Snapshot(cfg Config) Snapshot { return s.snapshot(cfg) }

func validReading(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	v := *p
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

func (s *State) correct(cfg Config, in Input, pct float64) Result {
	var res Result
	z := pct / 100 * cfg.TankCapacity * cfg.BiodieselFactor()

	if s.SkipCount > 0 || s.FaultRaised {
		res.Recovered = s.FaultRaised
		s.SkipCount = 0
		s.FaultRaised = false
	}

	if !s.Initialized {
		s.Initialized = true
		s.Level = clampLevel(z, cfg.TankCapacity)
		s.Uncertainty = cfg.InitialUncertainty
		s.LastUpdate = in.Timestamp
		res.Seeded = true
		return res
	}

	prior := s.Level
	dt := in.Timestamp.Sub(s.LastUpdate)
	s.predict(cfg, in, dt)
	s.LastUpdate = in.Timestamp

	innovation := z - s.Level
	res.Innovation = innovation
	res.Corrected = true

	if innovation > cfg.RefuelMinRise() {
		before := s.Level
		after := clampLevel(z, cfg.TankCapacity)
		res.Refuel = &model.RefuelEvent{
			LevelBefore: before,
			LevelAfter:  after,
			Magnitude:   after - before,
			Confidence:  refuelConfidence(cfg, innovation, dt),
		}
		res.Consumed = prior - before
		s.reset(cfg, after)
		return res
	}

	r := s.measurementNoise(cfg)
	gain := s.Uncertainty / (s.Uncertainty + r)
	s.Level = clampLevel(s.Level+gain*innovation, cfg.TankCapacity)
	s.Uncertainty = math.Max(s.Uncertainty*(1-gain), cfg.NoiseFloor*cfg.NoiseFloor)
	s.pushInnovation(cfg, innovation)
	res.Consumed = prior - s.Level
	return res
}

func (s *State) skip(cfg Config, in Input) (Result, error) {
	var res Result
	s.SkipCount++
	if s.SkipCount < cfg.SensorFaultThreshold {
		return res, fault.New(fault.Transient, op, fault.ErrInvalidReading)
	}
	if !s.FaultRaised {
		s.FaultRaised = true
		res.SensorFault = &model.SensorFaultEvent{
			SkipCount: s.SkipCount,
			Reason:    "consecutive invalid fuel readings",
		}
	}
	if s.Initialized {
		prior := s.Level
		s.predict(cfg, in, in.Timestamp.Sub(s.LastUpdate))
		s.LastUpdate = in.Timestamp
		res.Predicted = true
		res.Consumed = prior - s.Level
	}
	return res, fault.New(fault.Persistent, op, fault.ErrSensorFault)
}

// predict advances the level by the expected consumption over dt.
func (s *State) predict(cfg Config, in Input, dt time.Duration) {
	s.Level = clampLevel(s.Level-expectedConsumption(cfg, in, dt), cfg.TankCapacity)
	s.Uncertainty += cfg.ProcessNoise
}

func expectedConsumption(cfg Config, in Input, dt time.Duration) float64 {
	if in.FuelRate != nil {
		rate := *in.FuelRate
		if !math.IsNaN(rate) && !math.IsInf(rate, 0) && rate >= 0 {
			return rate * dt.Hours()
		}
	}
	d := in.DistanceKm
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0
	}
	return d * cfg.FuelPerKm
}

// measurementNoise returns the noise for the next correction.
func (s *State) measurementNoise(cfg Config) float64 {
	if s.BiasDetected {
		return cfg.MeasurementNoise * cfg.BiasPenalty
	}
	return cfg.MeasurementNoise
}

func (s *State) pushInnovation(cfg Config, v float64) {
	s.Innovations = append(s.Innovations, v)
	if n, keep := len(s.Innovations), residualWindow(cfg.BiasWindow); n > keep {
		s.Innovations = append(s.Innovations[:0], s.Innovations[n-keep:]...)
	}
	s.BiasDetected, s.BiasMagnitude = detectBias(s.Innovations, cfg.BiasWindow)
}

// residualWindow is the number of residuals produced by a window of readings.
// The first reading of a window seeds or follows a reset and has none.
func residualWindow(readings int) int { return readings - 1 }

// detectBias reports a bias when the window of readings is full and every
// residual has the same non-zero sign.
func detectBias(h []float64, window int) (bool, float64) {
	n := residualWindow(window)
	if len(h) < n {
		return false, 0
	}
	h = h[len(h)-n:]
	sign := math.Signbit(h[0])
	for _, v := range h {
		if v == 0 || math.Signbit(v) != sign {
			return false, 0
		}
	}
	return true, stat.Mean(h, nil)
}

// reset is the only discontinuous change of the level.
func (s *State) reset(cfg Config, level float64) {
	s.Level = level
	s.Uncertainty = cfg.RecalibratedUncertainty
	s.Innovations = nil
	s.BiasDetected = false
	s.BiasMagnitude = 0
}

func refuelConfidence(cfg Config, rise float64, dt time.Duration) model.Confidence {
	magnitude := math.Min(1, rise/(2*cfg.RefuelMinRise()))
	timing := 1.0
	if dt > cfg.RefuelWindow {
		timing = float64(cfg.RefuelWindow) / float64(dt)
	}
	return model.ClampConfidence(magnitude * timing)
}

func (s *State) check(cfg Config) error {
	if !s.Initialized {
		return nil
	}
	switch {
	case math.IsNaN(s.Level) || math.IsInf(s.Level, 0):
		return fault.Invariantf(op, "level is %v", s.Level)
	case math.IsNaN(s.Uncertainty) || math.IsInf(s.Uncertainty, 0):
		return fault.Invariantf(op, "uncertainty is %v", s.Uncertainty)
	case s.Uncertainty < 0:
		return fault.Invariantf(op, "negative uncertainty %v", s.Uncertainty)
	case s.Level < 0 || s.Level > cfg.TankCapacity:
		return fault.Invariantf(op, "level %v outside [0,%v]", s.Level, cfg.TankCapacity)
	}
	for _, v := range s.Innovations {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fault.Invariantf(op, "innovation is %v", v)
		}
	}
	return nil
}

// Validate checks a restored state against the configuration.
func (s State) Validate(cfg Config) error {
	if s.SkipCount < 0 {
		return fault.Invariantf("estimator.restore", "negative skip count %d", s.SkipCount)
	}
	if len(s.Innovations) > residualWindow(cfg.BiasWindow) {
		return fault.Invariantf("estimator.restore", "%d innovations exceed window of %d readings", len(s.Innovations), cfg.BiasWindow)
	}
	if !s.Initialized {
		return nil
	}
	if err := s.check(cfg); err != nil {
		return err
	}
	if s.Uncertainty < cfg.NoiseFloor*cfg.NoiseFloor {
		return fault.Invariantf("estimator.restore", "uncertainty %v below noise floor", s.Uncertainty)
	}
	if bias, _ := detectBias(s.Innovations, cfg.BiasWindow); bias != s.BiasDetected {
		return fault.Invariantf("estimator.restore", "bias flag inconsistent with innovations")
	}
	return nil
}

// Degraded reports whether the filter runs without sensor corrections.
func (s *State) Degraded(cfg Config) bool {
	return s.SkipCount >= cfg.SensorFaultThreshold
}

func (s *State) snapshot(cfg Config) Snapshot {
	snap := Snapshot{
		Timestamp:      s.LastUpdate,
		Level:          s.Level,
		Uncertainty:    s.Uncertainty,
		BiasDetected:   s.BiasDetected,
		BiasMagnitude:  s.BiasMagnitude,
		EffectiveNoise: s.measurementNoise(cfg),
		SkipCount:      s.SkipCount,
		Degraded:       s.Degraded(cfg),
		Initialized:    s.Initialized,
	}
	if cfg.TankCapacity > 0 {
		snap.LevelPct = s.Level / cfg.TankCapacity * 100
	}
	return snap
}

func (s *State) clone() State {
	c := *s
	if s.Innovations != nil {
		c.Innovations = append([]float64(nil), s.Innovations...)
	}
	return c
}

func clampLevel(v, capacity float64) float64 {
	return math.Min(math.Max(v, 0), capacity)
}
