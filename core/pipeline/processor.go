// Package pipeline applies telemetry records to the per-vehicle component
// states and fans the results out to the event log, metrics and the estimate
// bus.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/fueltrack/core/efficiency"
	"github.com/kilianp07/fueltrack/core/estimator"
	"github.com/kilianp07/fueltrack/core/eventlog"
	"github.com/kilianp07/fueltrack/core/fault"
	"github.com/kilianp07/fueltrack/core/logger"
	"github.com/kilianp07/fueltrack/core/maintenance"
	"github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/core/monitoring"
	"github.com/kilianp07/fueltrack/core/theft"
	"github.com/kilianp07/fueltrack/core/vehiclestate"
	"github.com/kilianp07/fueltrack/internal/eventbus"
)

const opProcess = "pipeline.process"

// Snapshotter is the part of the snapshot persister the processor drives.
type Snapshotter interface {
	Touched(updates int)
	Forget(ctx context.Context, vehicleID string) error
}

// Options configures the worker pool used by Run.
type Options struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	// BusBuffer is the per-subscriber buffer of the estimate bus.
	BusBuffer int `json:"bus_buffer"`
}

// SetDefaults fills zero values.
func (o *Options) SetDefaults() {
	if o.Workers == 0 {
		o.Workers = 4
	}
	if o.QueueSize == 0 {
		o.QueueSize = 256
	}
	if o.BusBuffer == 0 {
		o.BusBuffer = 1024
	}
}

// Validate checks the pool sizes.
func (o Options) Validate() error {
	switch {
	case o.Workers < 1:
		return fmt.Errorf("workers must be at least 1")
	case o.QueueSize < 1:
		return fmt.Errorf("queue_size must be at least 1")
	case o.BusBuffer < 1:
		return fmt.Errorf("bus_buffer must be at least 1")
	}
	return nil
}

// Deps are the collaborators of a Processor. Profiles, Fleet and Logger are
// required.
type Deps struct {
	Profiles  Profiles
	Vehicles  *vehiclestate.Store
	Fleet     *theft.FleetAggregator
	Snapshots Snapshotter
	Events    eventlog.Store
	Bus       *eventbus.TypedBus[model.EstimateRecord]
	Sink      metrics.MetricsSink
	Logger    logger.Logger
	Options   Options
}

// Processor owns the per-vehicle update path.
type Processor struct {
	profiles Profiles
	vehicles *vehiclestate.Store
	fleet    *theft.FleetAggregator
	snap     Snapshotter
	events   eventlog.Store
	bus      *eventbus.TypedBus[model.EstimateRecord]
	sink     metrics.MetricsSink
	log      logger.Logger
	opts     Options
}

// New creates a Processor, filling missing collaborators with in-memory or
// no-op implementations.
func New(d Deps) (*Processor, error) {
	if d.Profiles == nil || d.Logger == nil || d.Fleet == nil {
		return nil, fmt.Errorf("pipeline: profiles, fleet aggregator and logger are required")
	}
	d.Options.SetDefaults()
	if err := d.Options.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if d.Vehicles == nil {
		d.Vehicles = vehiclestate.NewStore()
	}
	if d.Events == nil {
		d.Events = eventlog.NopStore{}
	}
	if d.Bus == nil {
		d.Bus = eventbus.NewTypedBuffered[model.EstimateRecord](d.Options.BusBuffer)
	}
	if d.Sink == nil {
		d.Sink = metrics.NopSink{}
	}
	return &Processor{
		profiles: d.Profiles,
		vehicles: d.Vehicles,
		fleet:    d.Fleet,
		snap:     d.Snapshots,
		events:   d.Events,
		bus:      d.Bus,
		sink:     d.Sink,
		log:      d.Logger,
		opts:     d.Options,
	}, nil
}

// Bus returns the bus on which estimate records are published.
func (p *Processor) Bus() *eventbus.TypedBus[model.EstimateRecord] { return p.bus }

// Vehicles returns the vehicle state store.
func (p *Processor) Vehicles() *vehiclestate.Store { return p.vehicles }

// outcome is everything an update produced. It is computed under the vehicle
// lock and emitted after the lock is released.
type outcome struct {
	record      *model.EstimateRecord
	sample      *efficiency.Sample
	maintenance []maintenance.Update
	updates     int
	touched     bool
}

// Process applies one record. The returned record is nil when nothing worth
// emitting happened. A non-nil error does not imply a nil record: transient
// and persistent faults still advance the state.
func (p *Processor) Process(ctx context.Context, rec model.TelemetryRecord) (*model.EstimateRecord, error) {
	if err := rec.Validate(); err != nil {
		err = fault.WithVehicle(fault.New(fault.Transient, opProcess, err), rec.VehicleID)
		p.report(rec, err)
		return nil, err
	}
	v, created := p.vehicles.GetOrCreate(rec.VehicleID, rec.Fleet())
	if created {
		p.fleet.Join(rec.Fleet(), rec.VehicleID)
		p.log.Infow("vehicle registered", map[string]any{"vehicle_id": rec.VehicleID, "fleet_id": rec.Fleet()})
	}
	prof := p.profiles.ProfileFor(rec.VehicleID)

	out, err := p.locked(v, prof, rec)
	if err != nil {
		err = fault.WithVehicle(err, rec.VehicleID)
		p.report(rec, err)
	}
	if out.touched && p.snap != nil {
		p.snap.Touched(out.updates)
	}
	p.emit(ctx, rec, out)
	return out.record, err
}

func (p *Processor) locked(v *vehiclestate.Vehicle, prof Profile, rec model.TelemetryRecord) (outcome, error) {
	v.Lock()
	defer v.Unlock()
	out, err := p.apply(v, prof, rec)
	if out.touched {
		out.updates = v.Touch()
	}
	return out, err
}

func (p *Processor) apply(v *vehiclestate.Vehicle, prof Profile, rec model.TelemetryRecord) (outcome, error) {
	var out outcome
	ts := rec.Timestamp.UTC()
	if !v.Meta.LastSeen.IsZero() && !ts.After(v.Meta.LastSeen) {
		return out, fault.New(fault.Internal, opProcess, fmt.Errorf("%w: %s not after %s", fault.ErrOutOfOrder, ts.Format(time.RFC3339Nano), v.Meta.LastSeen.Format(time.RFC3339Nano)))
	}

	dist, odo := distanceDelta(v.Meta, rec)
	dist += v.Meta.PendingDistance
	prevBias := v.Estimator.BiasDetected

	res, err := v.Estimator.Update(prof.Estimator, estimator.Input{
		Reading:    rec.FuelPct,
		DistanceKm: dist,
		FuelRate:   rec.FuelRate,
		Timestamp:  ts,
	})
	if fault.IsInternal(err) {
		return out, err
	}
	// The estimator committed; later failures must still reach the persister.
	out.touched = true

	if rec.FleetID != "" && rec.FleetID != v.Meta.FleetID {
		p.fleet.Remove(v.ID)
		p.fleet.Join(rec.FleetID, v.ID)
		v.Meta.FleetID = rec.FleetID
	}
	if v.Meta.FleetID == "" {
		v.Meta.FleetID = model.DefaultFleet
	}
	v.Meta.LastSeen = ts
	if odo != nil {
		v.Meta.LastOdometer = odo
	}
	if res.Seeded || res.Corrected || res.Predicted {
		v.Meta.PendingDistance = 0
	} else {
		v.Meta.PendingDistance = dist
	}

	id, fleetID := v.ID, v.Meta.FleetID
	snap := res.Snapshot
	var events []model.Event

	if res.SensorFault != nil {
		events = append(events, model.NewSensorFault(id, fleetID, ts, *res.SensorFault))
		events = p.signal(events, id, fleetID, theft.SignatureSensorFault, ts)
	}
	if res.Recovered {
		p.log.Infow("fuel sensor recovered", map[string]any{"vehicle_id": id})
	}
	if res.Refuel != nil {
		events = append(events, model.NewRefuel(id, fleetID, ts, *res.Refuel))
		v.Theft.Rebase(snap.Level)
	}
	if snap.BiasDetected && !prevBias {
		p.log.Warnw("fuel sensor bias detected", map[string]any{"vehicle_id": id, "bias": snap.BiasMagnitude})
		events = p.signal(events, id, fleetID, theft.SignatureBias, ts)
	}

	if res.Corrected {
		sample, effErr := v.Efficiency.Accumulate(prof.Efficiency, dist, res.Consumed)
		if effErr != nil {
			err = effErr
		}
		out.sample = sample
	}

	switch {
	case !snap.Initialized || res.Refuel != nil:
	case snap.Degraded:
		v.Theft.Rebase(snap.Level)
	default:
		motion := theft.Motion{SpeedKmh: rec.SpeedKmh, Lat: rec.Lat, Lon: rec.Lon}
		if ev := v.Theft.Observe(prof.Theft, prof.Estimator.TankCapacity, snap.Level, ts, motion); ev != nil {
			pat := p.fleet.Record(fleetID, id, theft.SignatureTheftDrop, ts)
			if pat.Systemic {
				ev.Systemic = true
				ev.Action = model.ActionInspectFleetSensors
			}
			events = append(events, model.NewTheft(id, fleetID, ts, *ev))
			events = p.flag(events, id, fleetID, ts, pat)
		}
	}

	out.maintenance = v.Maintenance.Observe(prof.Maintenance, rec.Channels, ts)
	for _, up := range out.maintenance {
		if !up.Escalated {
			continue
		}
		events = append(events, model.NewMaintenance(id, fleetID, ts, up.Record))
		if up.Record.Risk >= model.RiskHigh {
			events = p.signal(events, id, fleetID, theft.SignatureMaintenance+up.Record.Channel, ts)
		}
	}

	if res.Seeded || res.Corrected || res.Predicted || len(events) > 0 {
		out.record = &model.EstimateRecord{
			VehicleID:    id,
			FleetID:      fleetID,
			Timestamp:    ts,
			Level:        snap.Level,
			LevelPct:     snap.LevelPct,
			Uncertainty:  snap.Uncertainty,
			BiasDetected: snap.BiasDetected,
			Degraded:     snap.Degraded,
			Efficiency:   v.Efficiency.Efficiency(),
			Events:       events,
		}
	}
	return out, err
}

// signal records a signature in the fleet aggregator and appends a pattern
// event when it made the signature systemic.
func (p *Processor) signal(events []model.Event, vehicleID, fleetID, signature string, ts time.Time) []model.Event {
	return p.flag(events, vehicleID, fleetID, ts, p.fleet.Record(fleetID, vehicleID, signature, ts))
}

func (p *Processor) flag(events []model.Event, vehicleID, fleetID string, ts time.Time, pat theft.Pattern) []model.Event {
	if !pat.Flagged {
		return events
	}
	p.log.Warnw("fleet pattern detected", map[string]any{
		"fleet_id":  fleetID,
		"signature": pat.Signature,
		"affected":  pat.Affected,
		"fleet":     pat.FleetSize,
	})
	return append(events, model.NewFleetPattern(vehicleID, fleetID, ts, model.FleetPatternEvent{
		Signature: pat.Signature,
		Affected:  pat.Affected,
		FleetSize: pat.FleetSize,
		Fraction:  pat.Fraction,
		Window:    p.fleet.Window(),
	}))
}

// distanceDelta returns the distance driven since the previous record and the
// odometer value to remember.
func distanceDelta(meta vehiclestate.Meta, rec model.TelemetryRecord) (float64, *float64) {
	var odo *float64
	if rec.OdometerKm != nil && finite(*rec.OdometerKm) && *rec.OdometerKm >= 0 {
		v := *rec.OdometerKm
		odo = &v
	}
	if rec.DistanceKm != nil && finite(*rec.DistanceKm) {
		return math.Max(*rec.DistanceKm, 0), odo
	}
	if odo == nil || meta.LastOdometer == nil {
		return 0, odo
	}
	return math.Max(*odo-*meta.LastOdometer, 0), odo
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// emit hands the outcome to the outbound collaborators. No vehicle lock is
// held here.
func (p *Processor) emit(ctx context.Context, rec model.TelemetryRecord, out outcome) {
	if s := out.sample; s != nil {
		if !s.Accepted {
			p.log.Warnw("efficiency sample out of range", map[string]any{"vehicle_id": rec.VehicleID, "value": s.Value})
		}
		if r, ok := p.sink.(metrics.EfficiencyRecorder); ok {
			p.sinkErr(r.RecordEfficiency(metrics.EfficiencyEvent{
				VehicleID: rec.VehicleID,
				FleetID:   rec.Fleet(),
				Value:     s.Value,
				Smoothed:  s.Smoothed,
				Accepted:  s.Accepted,
				Time:      rec.Timestamp,
			}))
		}
	}
	if r, ok := p.sink.(metrics.MaintenanceRecorder); ok {
		for _, up := range out.maintenance {
			p.sinkErr(r.RecordMaintenance(metrics.MaintenanceEvent{VehicleID: rec.VehicleID, Record: up.Record, Time: rec.Timestamp}))
		}
	}
	if out.record == nil {
		return
	}
	evRec, _ := p.sink.(metrics.EventRecorder)
	for _, ev := range out.record.Events {
		p.log.Infow("event", map[string]any{"vehicle_id": ev.VehicleID, "kind": string(ev.Kind), "id": ev.ID})
		if err := p.events.Append(ctx, ev); err != nil {
			p.log.Errorf("event log append %s: %v", ev.ID, err)
		}
		if evRec != nil {
			p.sinkErr(evRec.RecordEvent(ev))
		}
	}
	p.sinkErr(p.sink.RecordEstimate(*out.record))
	p.bus.Publish(*out.record)
}

func (p *Processor) sinkErr(err error) {
	if err != nil {
		p.log.Warnf("metrics sink: %v", err)
	}
}

// report logs an update error by class. Internal errors also go to the
// monitoring layer.
func (p *Processor) report(rec model.TelemetryRecord, err error) {
	class := fault.ClassOf(err)
	switch class {
	case fault.Transient:
		p.log.Debugf("reading rejected: %v", err)
	case fault.Persistent:
		p.log.Debugf("sensor faulted: %v", err)
	default:
		p.log.Errorf("update failed: %v", err)
		monitoring.CaptureFault(err)
	}
	if r, ok := p.sink.(metrics.RejectionRecorder); ok {
		p.sinkErr(r.RecordRejection(metrics.RejectionEvent{
			VehicleID: rec.VehicleID,
			FleetID:   rec.Fleet(),
			Class:     class,
			Time:      rec.Timestamp,
		}))
	}
}
