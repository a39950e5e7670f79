package metrics

import (
	"errors"

	"github.com/kilianp07/fueltrack/core/model"
)

// MultiSink fans records out to several sinks. Optional recorders are only
// forwarded to sinks implementing them. Every sink is called even when an
// earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordEstimate(rec model.EstimateRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordEstimate(rec))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordEvent(ev model.Event) error {
	return forward(m.Sinks, func(r EventRecorder) error { return r.RecordEvent(ev) })
}

func (m *MultiSink) RecordRejection(ev RejectionEvent) error {
	return forward(m.Sinks, func(r RejectionRecorder) error { return r.RecordRejection(ev) })
}

func (m *MultiSink) RecordEfficiency(ev EfficiencyEvent) error {
	return forward(m.Sinks, func(r EfficiencyRecorder) error { return r.RecordEfficiency(ev) })
}

func (m *MultiSink) RecordMaintenance(ev MaintenanceEvent) error {
	return forward(m.Sinks, func(r MaintenanceRecorder) error { return r.RecordMaintenance(ev) })
}

func (m *MultiSink) RecordSnapshotCycle(ev SnapshotCycleEvent) error {
	return forward(m.Sinks, func(r SnapshotRecorder) error { return r.RecordSnapshotCycle(ev) })
}

func forward[R any](sinks []MetricsSink, call func(R) error) error {
	var errs []error
	for _, s := range sinks {
		if rec, ok := s.(R); ok {
			errs = append(errs, call(rec))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Forget(vehicleID string) {
	for _, s := range m.Sinks {
		if f, ok := s.(VehicleForgetter); ok {
			f.Forget(vehicleID)
		}
	}
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
