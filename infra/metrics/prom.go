// Package metrics implements the Prometheus and InfluxDB sinks.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/model"
)

// PromSink exposes estimates and events as Prometheus metrics.
type PromSink struct {
	level       *prometheus.GaugeVec
	uncertainty *prometheus.GaugeVec
	efficiency  *prometheus.GaugeVec
	degraded    *prometheus.GaugeVec
	risk        *prometheus.GaugeVec
	events      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	windows     *prometheus.CounterVec
	snapshots   *prometheus.CounterVec
	flushTime   prometheus.Histogram
}

// NewPromSink registers the metrics on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on reg. A nil registerer defaults
// to the global Prometheus registerer. Metrics that are already registered
// are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	vehicle := []string{"vehicle_id", "fleet_id"}
	s := &PromSink{
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fueltrack_level",
			Help: "Estimated fuel level in volume units",
		}, vehicle),
		uncertainty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fueltrack_uncertainty",
			Help: "Variance of the level estimate",
		}, vehicle),
		efficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fueltrack_efficiency_km_per_unit",
			Help: "Smoothed fuel efficiency of the last closed window",
		}, vehicle),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fueltrack_degraded",
			Help: "1 while the estimator runs without sensor corrections",
		}, vehicle),
		risk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fueltrack_maintenance_risk",
			Help: "Maintenance risk level per channel (0=LOW .. 3=CRITICAL)",
		}, []string{"vehicle_id", "channel"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fueltrack_events_total",
			Help: "Number of detected events",
		}, []string{"fleet_id", "kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fueltrack_rejected_samples_total",
			Help: "Number of samples that did not update the estimate",
		}, []string{"fleet_id", "class"}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fueltrack_efficiency_windows_total",
			Help: "Number of closed efficiency windows",
		}, []string{"accepted"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fueltrack_snapshot_vehicles_total",
			Help: "Vehicles handled by snapshot flushes",
		}, []string{"result"}),
		flushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fueltrack_snapshot_flush_seconds",
			Help:    "Duration of snapshot flushes",
			Buckets: prometheus.DefBuckets,
		}),
	}
	var err error
	register(reg, &s.level, &err)
	register(reg, &s.uncertainty, &err)
	register(reg, &s.efficiency, &err)
	register(reg, &s.degraded, &err)
	register(reg, &s.risk, &err)
	register(reg, &s.events, &err)
	register(reg, &s.rejections, &err)
	register(reg, &s.windows, &err)
	register(reg, &s.snapshots, &err)
	register(reg, &s.flushTime, &err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// register swaps c for the existing collector when it is already
// registered. Other errors are accumulated in errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C, errp *error) {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				*c = existing
				return
			}
		}
		*errp = errors.Join(*errp, err)
	}
}

func (s *PromSink) RecordEstimate(rec model.EstimateRecord) error {
	s.level.WithLabelValues(rec.VehicleID, rec.FleetID).Set(rec.Level)
	s.uncertainty.WithLabelValues(rec.VehicleID, rec.FleetID).Set(rec.Uncertainty)
	if rec.Efficiency != nil {
		s.efficiency.WithLabelValues(rec.VehicleID, rec.FleetID).Set(*rec.Efficiency)
	}
	deg := 0.0
	if rec.Degraded {
		deg = 1
	}
	s.degraded.WithLabelValues(rec.VehicleID, rec.FleetID).Set(deg)
	return nil
}

func (s *PromSink) RecordEvent(ev model.Event) error {
	s.events.WithLabelValues(ev.FleetID, string(ev.Kind)).Inc()
	return nil
}

func (s *PromSink) RecordRejection(ev coremetrics.RejectionEvent) error {
	s.rejections.WithLabelValues(ev.FleetID, ev.Class.String()).Inc()
	return nil
}

func (s *PromSink) RecordEfficiency(ev coremetrics.EfficiencyEvent) error {
	if ev.Accepted {
		s.windows.WithLabelValues("true").Inc()
	} else {
		s.windows.WithLabelValues("false").Inc()
	}
	return nil
}

func (s *PromSink) RecordMaintenance(ev coremetrics.MaintenanceEvent) error {
	if !ev.Record.Scored() {
		return nil
	}
	s.risk.WithLabelValues(ev.VehicleID, ev.Record.Channel).Set(float64(ev.Record.Risk))
	return nil
}

func (s *PromSink) RecordSnapshotCycle(ev coremetrics.SnapshotCycleEvent) error {
	s.snapshots.WithLabelValues("saved").Add(float64(ev.Saved))
	s.snapshots.WithLabelValues("failed").Add(float64(ev.Failed))
	s.flushTime.Observe(ev.Duration.Seconds())
	return nil
}

// Forget drops the per-vehicle series of a decommissioned vehicle.
func (s *PromSink) Forget(vehicleID string) {
	for _, g := range []*prometheus.GaugeVec{s.level, s.uncertainty, s.efficiency, s.degraded, s.risk} {
		g.DeletePartialMatch(prometheus.Labels{"vehicle_id": vehicleID})
	}
}
