package config

import (
	"fmt"

	"github.com/kilianp07/fueltrack/core/pipeline"
)

// baseClass names the profile built from the top level sections.
const baseClass = ""

// VehicleClass overrides the parameters that depend on the vehicle. Zero
// values keep the base setting.
type VehicleClass struct {
	TankCapacity  float64 `json:"tank_capacity"`
	FuelPerKm     float64 `json:"fuel_per_km"`
	MinEfficiency float64 `json:"min_efficiency"`
	MaxEfficiency float64 `json:"max_efficiency"`
	// MinFuel is the efficiency window fuel minimum, usually scaled with
	// the tank.
	MinFuel float64 `json:"min_fuel"`
}

func (c *Config) base() pipeline.Profile {
	return pipeline.Profile{
		Class:       baseClass,
		Estimator:   c.Estimator,
		Efficiency:  c.Efficiency,
		Theft:       c.Theft,
		Maintenance: c.Maintenance,
	}
}

func (vc VehicleClass) apply(p pipeline.Profile, name string) pipeline.Profile {
	p.Class = name
	if vc.TankCapacity > 0 {
		p.Estimator.TankCapacity = vc.TankCapacity
	}
	if vc.FuelPerKm > 0 {
		p.Estimator.FuelPerKm = vc.FuelPerKm
	}
	if vc.MinEfficiency > 0 {
		p.Efficiency.MinEfficiency = vc.MinEfficiency
	}
	if vc.MaxEfficiency > 0 {
		p.Efficiency.MaxEfficiency = vc.MaxEfficiency
	}
	if vc.MinFuel > 0 {
		p.Efficiency.MinFuel = vc.MinFuel
	}
	return p
}

func (c *Config) buildProfiles() error {
	profiles := map[string]pipeline.Profile{baseClass: c.base()}
	for name, vc := range c.VehicleClasses {
		p := vc.apply(c.base(), name)
		if err := p.Estimator.Validate(); err != nil {
			return fmt.Errorf("vehicle class %s: estimator: %w", name, err)
		}
		if err := p.Efficiency.Validate(); err != nil {
			return fmt.Errorf("vehicle class %s: efficiency: %w", name, err)
		}
		profiles[name] = p
	}
	c.profiles = profiles
	return nil
}

// ProfileFor returns the parameters for a vehicle: its class when mapped, the
// default class otherwise, the base sections as a last resort.
func (c *Config) ProfileFor(vehicleID string) pipeline.Profile {
	if c.profiles == nil {
		return c.base()
	}
	class, ok := c.Vehicles[vehicleID]
	if !ok {
		class = c.DefaultClass
	}
	if p, ok := c.profiles[class]; ok {
		return p
	}
	return c.profiles[baseClass]
}
