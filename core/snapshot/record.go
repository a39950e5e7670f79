// Package snapshot persists per-vehicle state so a restart keeps calibration.
// Each vehicle is stored as one versioned record per component.
package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/fueltrack/core/efficiency"
	"github.com/kilianp07/fueltrack/core/estimator"
	"github.com/kilianp07/fueltrack/core/maintenance"
	"github.com/kilianp07/fueltrack/core/theft"
	"github.com/kilianp07/fueltrack/core/vehiclestate"
)

// SchemaVersion is bumped whenever a component layout changes.
const SchemaVersion = 1

// Component names.
const (
	ComponentMeta        = "meta"
	ComponentEstimator   = "estimator"
	ComponentEfficiency  = "efficiency"
	ComponentTheft       = "theft"
	ComponentMaintenance = "maintenance"
)

// Record is one persisted component state.
type Record struct {
	SchemaVersion int             `json:"schema_version"`
	VehicleID     string          `json:"vehicle_id"`
	Component     string          `json:"component"`
	TakenAt       time.Time       `json:"taken_at"`
	Data          json.RawMessage `json:"data"`
}

// Key identifies a record within a store.
func (r Record) Key() string { return r.VehicleID + "/" + r.Component }

// Bundle is the decoded state of one vehicle. Components that were missing
// or unreadable are nil.
type Bundle struct {
	VehicleID   string
	Meta        *vehiclestate.Meta
	Estimator   *estimator.State
	Efficiency  *efficiency.State
	Theft       *theft.Tracker
	Maintenance *maintenance.State
}

// Capture encodes the vehicle state. The caller must hold the vehicle lock.
func Capture(v *vehiclestate.Vehicle, now time.Time) ([]Record, error) {
	parts := []struct {
		name string
		val  any
	}{
		{ComponentMeta, v.Meta},
		{ComponentEstimator, v.Estimator},
		{ComponentEfficiency, v.Efficiency},
		{ComponentTheft, v.Theft},
		{ComponentMaintenance, v.Maintenance},
	}
	out := make([]Record, 0, len(parts))
	for _, p := range parts {
		data, err := json.Marshal(p.val)
		if err != nil {
			return nil, fmt.Errorf("encode %s for %s: %w", p.name, v.ID, err)
		}
		out = append(out, Record{
			SchemaVersion: SchemaVersion,
			VehicleID:     v.ID,
			Component:     p.name,
			TakenAt:       now.UTC(),
			Data:          data,
		})
	}
	return out, nil
}

// Decode groups records by vehicle. Records with an unknown schema version or
// undecodable payload are skipped and reported, leaving that component nil.
func Decode(records []Record) (map[string]*Bundle, []error) {
	out := map[string]*Bundle{}
	var errs []error
	for _, r := range records {
		if r.SchemaVersion != SchemaVersion {
			errs = append(errs, fmt.Errorf("%s: schema version %d unsupported", r.Key(), r.SchemaVersion))
			continue
		}
		b, ok := out[r.VehicleID]
		if !ok {
			b = &Bundle{VehicleID: r.VehicleID}
			out[r.VehicleID] = b
		}
		var err error
		switch r.Component {
		case ComponentMeta:
			b.Meta, err = decodeInto[vehiclestate.Meta](r.Data)
		case ComponentEstimator:
			b.Estimator, err = decodeInto[estimator.State](r.Data)
		case ComponentEfficiency:
			b.Efficiency, err = decodeInto[efficiency.State](r.Data)
		case ComponentTheft:
			b.Theft, err = decodeInto[theft.Tracker](r.Data)
		case ComponentMaintenance:
			b.Maintenance, err = decodeInto[maintenance.State](r.Data)
		default:
			err = fmt.Errorf("unknown component")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Key(), err))
		}
	}
	return out, errs
}

func decodeInto[T any](data json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ValidateMeta checks the shared bookkeeping of a restored vehicle.
func ValidateMeta(m vehiclestate.Meta) error {
	if math.IsNaN(m.PendingDistance) || math.IsInf(m.PendingDistance, 0) || m.PendingDistance < 0 {
		return fmt.Errorf("pending distance %v invalid", m.PendingDistance)
	}
	if m.LastOdometer != nil && (math.IsNaN(*m.LastOdometer) || math.IsInf(*m.LastOdometer, 0) || *m.LastOdometer < 0) {
		return fmt.Errorf("odometer %v invalid", *m.LastOdometer)
	}
	return nil
}
