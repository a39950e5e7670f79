package estimator

import (
	"fmt"
	"time"
)

// Config holds the filter parameters for one vehicle. Values come from the
// configuration layer; nothing here has a built-in default.
type Config struct {
	// TankCapacity is the usable tank volume for the vehicle class.
	TankCapacity float64 `json:"tank_capacity"`
	// FuelPerKm is the expected consumption per kilometre used by the
	// predict step when no fuel rate is reported.
	FuelPerKm float64 `json:"fuel_per_km"`

	ProcessNoise            float64 `json:"process_noise"`
	MeasurementNoise        float64 `json:"measurement_noise"`
	InitialUncertainty      float64 `json:"initial_uncertainty"`
	RecalibratedUncertainty float64 `json:"recalibrated_uncertainty"`
	// NoiseFloor is the minimum standard deviation. The variance never drops
	// below its square.
	NoiseFloor float64 `json:"noise_floor"`

	// BiasWindow is the number of consecutive readings whose residuals must
	// share a sign. The first reading after a seed or reset has no residual.
	BiasWindow  int     `json:"bias_window"`
	BiasPenalty float64 `json:"bias_penalty"`

	// BiodieselBlendPct is the blend percentage of the fuel (B7 = 7).
	BiodieselBlendPct float64 `json:"biodiesel_blend_pct"`
	// BiodieselReadingBias is the relative over-read of the sensor for pure
	// biodiesel. The correction factor is 1 - bias*blend/100.
	BiodieselReadingBias float64 `json:"biodiesel_reading_bias"`

	RefuelThreshold         float64       `json:"refuel_threshold"`
	RefuelThresholdFraction float64       `json:"refuel_threshold_fraction"`
	RefuelWindow            time.Duration `json:"refuel_window"`

	SensorFaultThreshold int `json:"sensor_fault_threshold"`
}

// BiodieselFactor returns the multiplicative reading correction.
func (c Config) BiodieselFactor() float64 {
	return 1 - c.BiodieselReadingBias*c.BiodieselBlendPct/100
}

// RefuelMinRise returns the innovation above which a rise counts as a refuel.
func (c Config) RefuelMinRise() float64 {
	return max(c.RefuelThreshold, c.RefuelThresholdFraction*c.TankCapacity)
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.TankCapacity <= 0:
		return fmt.Errorf("tank_capacity must be positive")
	case c.FuelPerKm < 0:
		return fmt.Errorf("fuel_per_km must not be negative")
	case c.ProcessNoise < 0:
		return fmt.Errorf("process_noise must not be negative")
	case c.MeasurementNoise <= 0:
		return fmt.Errorf("measurement_noise must be positive")
	case c.InitialUncertainty <= 0 || c.RecalibratedUncertainty <= 0:
		return fmt.Errorf("initial and recalibrated uncertainty must be positive")
	case c.NoiseFloor <= 0:
		return fmt.Errorf("noise_floor must be positive")
	case c.InitialUncertainty < c.NoiseFloor*c.NoiseFloor || c.RecalibratedUncertainty < c.NoiseFloor*c.NoiseFloor:
		return fmt.Errorf("uncertainty settings must not be below noise_floor squared")
	case c.BiasWindow < 2:
		return fmt.Errorf("bias_window must be at least 2")
	case c.BiasPenalty < 1:
		return fmt.Errorf("bias_penalty must be >= 1")
	case c.BiodieselBlendPct < 0 || c.BiodieselBlendPct > 100:
		return fmt.Errorf("biodiesel_blend_pct must be within [0,100]")
	case c.BiodieselReadingBias < 0 || c.BiodieselReadingBias >= 1:
		return fmt.Errorf("biodiesel_reading_bias must be within [0,1)")
	case c.RefuelThreshold <= 0 && c.RefuelThresholdFraction <= 0:
		return fmt.Errorf("refuel threshold must be positive")
	case c.RefuelThresholdFraction < 0 || c.RefuelThresholdFraction >= 1:
		return fmt.Errorf("refuel_threshold_fraction must be within [0,1)")
	case c.RefuelWindow <= 0:
		return fmt.Errorf("refuel_window must be positive")
	case c.SensorFaultThreshold < 1:
		return fmt.Errorf("sensor_fault_threshold must be >= 1")
	}
	if f := c.BiodieselFactor(); f <= 0 || f > 1 {
		return fmt.Errorf("biodiesel correction factor %.4f outside (0,1]", f)
	}
	return nil
}
