package pipeline

import (
	"github.com/kilianp07/fueltrack/core/efficiency"
	"github.com/kilianp07/fueltrack/core/estimator"
	"github.com/kilianp07/fueltrack/core/maintenance"
	"github.com/kilianp07/fueltrack/core/theft"
)

// Profile is the full parameter set applied to one vehicle.
type Profile struct {
	Class       string
	Estimator   estimator.Config
	Efficiency  efficiency.Config
	Theft       theft.Config
	Maintenance maintenance.Config
}

// Profiles resolves the profile of a vehicle.
type Profiles interface {
	ProfileFor(vehicleID string) Profile
}

// StaticProfile applies the same profile to every vehicle.
type StaticProfile Profile

func (s StaticProfile) ProfileFor(string) Profile { return Profile(s) }
