package theft

import (
	"sort"
	"sync"
	"time"
)

// Signatures recorded by the pipeline.
const (
	SignatureTheftDrop   = "theft_drop"
	SignatureSensorFault = "sensor_fault"
	SignatureBias        = "bias"
	// SignatureMaintenance is prefixed to the channel name.
	SignatureMaintenance = "maintenance:"
)

// Pattern is the fleet view of one signature after a record.
type Pattern struct {
	Signature string
	Affected  int
	FleetSize int
	Fraction  float64
	Systemic  bool
	// Flagged is true only for the record that made the pattern systemic
	// within the current window.
	Flagged bool
}

type fleetState struct {
	members    map[string]struct{}
	signatures map[string]map[string]time.Time
	flagged    map[string]time.Time
}

// FleetAggregator counts anomaly signatures per fleet over a rolling window.
// It is the only state shared between vehicles and serialises all access.
type FleetAggregator struct {
	mu     sync.Mutex
	cfg    FleetConfig
	fleets map[string]*fleetState
}

// NewFleetAggregator creates an empty aggregator.
func NewFleetAggregator(cfg FleetConfig) *FleetAggregator {
	return &FleetAggregator{cfg: cfg, fleets: map[string]*fleetState{}}
}

func (a *FleetAggregator) fleet(id string) *fleetState {
	f, ok := a.fleets[id]
	if !ok {
		f = &fleetState{
			members:    map[string]struct{}{},
			signatures: map[string]map[string]time.Time{},
			flagged:    map[string]time.Time{},
		}
		a.fleets[id] = f
	}
	return f
}

// Join registers a vehicle as a fleet member.
func (a *FleetAggregator) Join(fleetID, vehicleID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fleet(fleetID).members[vehicleID] = struct{}{}
}

// Remove forgets a vehicle in every fleet.
func (a *FleetAggregator) Remove(vehicleID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, f := range a.fleets {
		delete(f.members, vehicleID)
		for _, seen := range f.signatures {
			delete(seen, vehicleID)
		}
		if len(f.members) == 0 {
			delete(a.fleets, id)
		}
	}
}

// Record notes that vehicleID showed signature at ts and returns the
// resulting fleet pattern.
func (a *FleetAggregator) Record(fleetID, vehicleID, signature string, ts time.Time) Pattern {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := a.fleet(fleetID)
	f.members[vehicleID] = struct{}{}
	seen, ok := f.signatures[signature]
	if !ok {
		seen = map[string]time.Time{}
		f.signatures[signature] = seen
	}
	if prev, ok := seen[vehicleID]; !ok || ts.After(prev) {
		seen[vehicleID] = ts
	}
	p := a.evaluate(f, signature, ts)
	if p.Systemic {
		if last, ok := f.flagged[signature]; !ok || ts.Sub(last) >= a.cfg.Window {
			f.flagged[signature] = ts
			p.Flagged = true
		}
	}
	return p
}

// Check returns the current pattern for a signature without recording.
func (a *FleetAggregator) Check(fleetID, signature string, ts time.Time) Pattern {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.fleets[fleetID]
	if !ok {
		return Pattern{Signature: signature}
	}
	return a.evaluate(f, signature, ts)
}

func (a *FleetAggregator) evaluate(f *fleetState, signature string, now time.Time) Pattern {
	cutoff := now.Add(-a.cfg.Window)
	seen := f.signatures[signature]
	for id, at := range seen {
		if at.Before(cutoff) {
			delete(seen, id)
		}
	}
	p := Pattern{Signature: signature, Affected: len(seen), FleetSize: len(f.members)}
	if p.FleetSize > 0 {
		p.Fraction = float64(p.Affected) / float64(p.FleetSize)
	}
	p.Systemic = p.Affected >= a.cfg.MinVehicles && p.Fraction >= a.cfg.FractionThreshold
	return p
}

// Window returns the rolling window length.
func (a *FleetAggregator) Window() time.Duration { return a.cfg.Window }

// Members returns the sorted member ids of a fleet.
func (a *FleetAggregator) Members(fleetID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.fleets[fleetID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(f.members))
	for id := range f.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
