package metrics

import (
	"time"

	"github.com/kilianp07/fueltrack/core/fault"
	"github.com/kilianp07/fueltrack/core/model"
)

// MetricsSink records estimate records for observability purposes.
type MetricsSink interface {
	RecordEstimate(rec model.EstimateRecord) error
}

// EventRecorder records detected events.
type EventRecorder interface {
	RecordEvent(ev model.Event) error
}

// RejectionEvent describes a sample that did not update the estimate.
type RejectionEvent struct {
	VehicleID string
	FleetID   string
	Class     fault.Class
	Time      time.Time
}

// RejectionRecorder records rejected samples by error class.
type RejectionRecorder interface {
	RecordRejection(ev RejectionEvent) error
}

// EfficiencyEvent is emitted when an efficiency window closes.
type EfficiencyEvent struct {
	VehicleID string
	FleetID   string
	Value     float64
	Smoothed  float64
	Accepted  bool
	Time      time.Time
}

// EfficiencyRecorder records closed efficiency windows.
type EfficiencyRecorder interface {
	RecordEfficiency(ev EfficiencyEvent) error
}

// MaintenanceEvent carries a freshly scored maintenance record.
type MaintenanceEvent struct {
	VehicleID string
	Record    model.MaintenanceRiskRecord
	Time      time.Time
}

// MaintenanceRecorder records maintenance scores.
type MaintenanceRecorder interface {
	RecordMaintenance(ev MaintenanceEvent) error
}

// SnapshotCycleEvent summarises one snapshot flush.
type SnapshotCycleEvent struct {
	Saved    int
	Failed   int
	Duration time.Duration
	Time     time.Time
}

// SnapshotRecorder records snapshot flush cycles.
type SnapshotRecorder interface {
	RecordSnapshotCycle(ev SnapshotCycleEvent) error
}

// VehicleForgetter drops per-vehicle series of a decommissioned vehicle.
type VehicleForgetter interface {
	Forget(vehicleID string)
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordEstimate(model.EstimateRecord) error    { return nil }
func (NopSink) RecordEvent(model.Event) error                { return nil }
func (NopSink) RecordRejection(RejectionEvent) error         { return nil }
func (NopSink) RecordEfficiency(EfficiencyEvent) error       { return nil }
func (NopSink) RecordMaintenance(MaintenanceEvent) error     { return nil }
func (NopSink) RecordSnapshotCycle(SnapshotCycleEvent) error { return nil }
