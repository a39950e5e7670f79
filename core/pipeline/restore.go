package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/core/snapshot"
	"github.com/kilianp07/fueltrack/core/vehiclestate"
)

// Restore loads every persisted vehicle. Components that fail validation
// against the current profile start fresh instead of carrying corrupt state.
// It returns the number of vehicles restored.
func (p *Processor) Restore(ctx context.Context, store snapshot.Store) (int, error) {
	recs, err := store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshots: %w", err)
	}
	bundles, errs := snapshot.Decode(recs)
	for _, err := range errs {
		p.log.Warnf("snapshot record skipped: %v", err)
	}
	ids := make([]string, 0, len(bundles))
	for id := range bundles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v := p.rebuild(bundles[id])
		p.vehicles.Put(v)
		p.fleet.Join(v.Meta.FleetID, id)
	}
	if len(ids) > 0 {
		p.log.Infof("restored %d vehicles", len(ids))
	}
	return len(ids), nil
}

func (p *Processor) rebuild(b *snapshot.Bundle) *vehiclestate.Vehicle {
	prof := p.profiles.ProfileFor(b.VehicleID)
	v := &vehiclestate.Vehicle{ID: b.VehicleID}
	reject := func(component string, err error) {
		p.log.Warnw("snapshot component reset", map[string]any{
			"vehicle_id": b.VehicleID,
			"component":  component,
			"error":      err.Error(),
		})
	}

	if b.Meta != nil {
		if err := snapshot.ValidateMeta(*b.Meta); err != nil {
			reject(snapshot.ComponentMeta, err)
		} else {
			v.Meta = *b.Meta
		}
	}
	if v.Meta.FleetID == "" {
		v.Meta.FleetID = model.DefaultFleet
	}
	if b.Estimator != nil {
		if err := b.Estimator.Validate(prof.Estimator); err != nil {
			reject(snapshot.ComponentEstimator, err)
		} else {
			v.Estimator = *b.Estimator
		}
	}
	if v.Estimator.LastUpdate.After(v.Meta.LastSeen) {
		v.Meta.LastSeen = v.Estimator.LastUpdate
	}
	if b.Efficiency != nil {
		if err := b.Efficiency.Validate(prof.Efficiency); err != nil {
			reject(snapshot.ComponentEfficiency, err)
		} else {
			v.Efficiency = *b.Efficiency
		}
	}
	if b.Theft != nil {
		if err := b.Theft.Validate(prof.Estimator.TankCapacity); err != nil {
			reject(snapshot.ComponentTheft, err)
		} else {
			v.Theft = *b.Theft
		}
	}
	if b.Maintenance != nil {
		if err := b.Maintenance.Validate(prof.Maintenance); err != nil {
			reject(snapshot.ComponentMaintenance, err)
		} else {
			v.Maintenance = *b.Maintenance
		}
	}
	return v
}
