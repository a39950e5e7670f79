package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fueltrack/core/efficiency"
	"github.com/kilianp07/fueltrack/core/estimator"
	"github.com/kilianp07/fueltrack/core/fault"
	"github.com/kilianp07/fueltrack/core/maintenance"
	"github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/core/theft"
	"github.com/kilianp07/fueltrack/core/vehiclestate"
	"github.com/kilianp07/fueltrack/infra/logger"
)

var t0 = time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)

func testProfile() Profile {
	return Profile{
		Class: "truck",
		Estimator: estimator.Config{
			TankCapacity:            100,
			FuelPerKm:               0.1,
			ProcessNoise:            0.05,
			MeasurementNoise:        4,
			InitialUncertainty:      25,
			RecalibratedUncertainty: 1,
			NoiseFloor:              0.01,
			BiasWindow:              4,
			BiasPenalty:             4,
			RefuelThreshold:         10,
			RefuelThresholdFraction: 0.1,
			RefuelWindow:            15 * time.Minute,
			SensorFaultThreshold:    3,
		},
		Efficiency: efficiency.Config{MinDistanceKm: 50, MinFuel: 5, MinEfficiency: 1, MaxEfficiency: 20, Alpha: 0.3},
		Theft: theft.Config{
			SpeedThresholdKmh: 3,
			MinDrop:           5,
			MinDropFraction:   0.05,
			MinDuration:       5 * time.Minute,
			RoundPenalty:      1,
			MinConfidence:     0.3,
			RecoveryFraction:  0.5,
			GeohashPrecision:  6,
		},
		Maintenance: maintenance.Config{
			Channels:              map[string]maintenance.ChannelConfig{"coolant_temp": {Threshold: 110, Direction: maintenance.Rising}},
			MinSamples:            5,
			FullConfidenceSamples: 10,
			MaxHistory:            50,
			CriticalDays:          3,
			HighDays:              7,
			MediumDays:            30,
			TentativeBelow:        0.5,
		},
	}
}

type fakeSnapshots struct {
	mu        sync.Mutex
	touched   []int
	forgotten []string
}

func (f *fakeSnapshots) Touched(n int) {
	f.mu.Lock()
	f.touched = append(f.touched, n)
	f.mu.Unlock()
}

func (f *fakeSnapshots) Forget(_ context.Context, id string) error {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, id)
	f.mu.Unlock()
	return nil
}

type rejectionSink struct {
	metrics.NopSink
	mu      sync.Mutex
	classes []fault.Class
}

func (r *rejectionSink) RecordRejection(ev metrics.RejectionEvent) error {
	r.mu.Lock()
	r.classes = append(r.classes, ev.Class)
	r.mu.Unlock()
	return nil
}

func newProcessor(t *testing.T, d Deps) *Processor {
	t.Helper()
	if d.Profiles == nil {
		d.Profiles = StaticProfile(testProfile())
	}
	if d.Fleet == nil {
		d.Fleet = theft.NewFleetAggregator(theft.FleetConfig{Window: time.Hour, FractionThreshold: 0.5, MinVehicles: 2})
	}
	d.Logger = logger.NopLogger{}
	p, err := New(d)
	require.NoError(t, err)
	return p
}

func at(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }

func fuel(id string, i int, pct float64) model.TelemetryRecord {
	return model.TelemetryRecord{VehicleID: id, Timestamp: at(i), FuelPct: model.Float(pct), SpeedKmh: model.Float(0)}
}

func kinds(rec *model.EstimateRecord) []model.EventKind {
	if rec == nil {
		return nil
	}
	out := make([]model.EventKind, 0, len(rec.Events))
	for _, ev := range rec.Events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Profiles: StaticProfile(testProfile())})
	assert.Error(t, err)
}

func TestProcessSeedsFromFirstReading(t *testing.T) {
	snaps := &fakeSnapshots{}
	p := newProcessor(t, Deps{Snapshots: snaps})

	rec, err := p.Process(context.Background(), fuel("v1", 0, 50))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 50, rec.Level, 1e-9)
	assert.InDelta(t, 50, rec.LevelPct, 1e-9)
	assert.Equal(t, model.DefaultFleet, rec.FleetID)
	assert.Nil(t, rec.Efficiency)
	assert.Empty(t, rec.Events)
	assert.Equal(t, []int{1}, snaps.touched)
	assert.Equal(t, []string{"v1"}, p.fleet.Members(model.DefaultFleet))
}

func TestProcessRejectsOutOfOrder(t *testing.T) {
	sink := &rejectionSink{}
	p := newProcessor(t, Deps{Sink: sink})
	_, err := p.Process(context.Background(), fuel("v1", 5, 50))
	require.NoError(t, err)

	rec, err := p.Process(context.Background(), fuel("v1", 4, 40))
	assert.Nil(t, rec)
	require.Error(t, err)
	assert.True(t, fault.IsInternal(err))
	assert.True(t, errors.Is(err, fault.ErrOutOfOrder))
	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "v1", fe.VehicleID)
	assert.Equal(t, []fault.Class{fault.Internal}, sink.classes)

	v, _ := p.vehicles.Get("v1")
	assert.Equal(t, at(5), v.Meta.LastSeen)
	assert.InDelta(t, 50, v.Estimator.Level, 1e-9)
}

func TestProcessMissingIdentity(t *testing.T) {
	p := newProcessor(t, Deps{})
	_, err := p.Process(context.Background(), model.TelemetryRecord{Timestamp: t0})
	require.Error(t, err)
	assert.Equal(t, fault.Transient, fault.ClassOf(err))
	assert.Zero(t, p.vehicles.Len())
}

func TestProcessRefuelEvent(t *testing.T) {
	p := newProcessor(t, Deps{})
	ctx := context.Background()
	_, err := p.Process(ctx, fuel("v1", 0, 20))
	require.NoError(t, err)

	rec, err := p.Process(ctx, fuel("v1", 1, 80))
	require.NoError(t, err)
	require.Equal(t, []model.EventKind{model.EventRefuel}, kinds(rec))
	assert.InDelta(t, 80, rec.Level, 1e-9)
	assert.InDelta(t, 60, rec.Events[0].Refuel.Magnitude, 1e-9)

	v, _ := p.vehicles.Get("v1")
	assert.InDelta(t, 80, v.Theft.Baseline, 1e-9)
}

func TestProcessSensorFaultEscalation(t *testing.T) {
	sink := &rejectionSink{}
	p := newProcessor(t, Deps{Sink: sink})
	ctx := context.Background()
	_, err := p.Process(ctx, fuel("v1", 0, 50))
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		rec, err := p.Process(ctx, model.TelemetryRecord{VehicleID: "v1", Timestamp: at(i)})
		assert.Nil(t, rec)
		assert.Equal(t, fault.Transient, fault.ClassOf(err))
	}
	rec, err := p.Process(ctx, model.TelemetryRecord{VehicleID: "v1", Timestamp: at(3)})
	assert.Equal(t, fault.Persistent, fault.ClassOf(err))
	require.NotNil(t, rec)
	assert.True(t, rec.Degraded)
	assert.Equal(t, []model.EventKind{model.EventSensorFault}, kinds(rec))

	rec, err = p.Process(ctx, model.TelemetryRecord{VehicleID: "v1", Timestamp: at(4)})
	assert.Equal(t, fault.Persistent, fault.ClassOf(err))
	require.NotNil(t, rec)
	assert.Empty(t, rec.Events)

	rec, err = p.Process(ctx, fuel("v1", 5, 49))
	require.NoError(t, err)
	assert.False(t, rec.Degraded)
	assert.Equal(t, []fault.Class{fault.Transient, fault.Transient, fault.Persistent, fault.Persistent}, sink.classes)
}

func TestProcessMarksPartialUpdateDirty(t *testing.T) {
	snaps := &fakeSnapshots{}
	p := newProcessor(t, Deps{Snapshots: snaps})
	ctx := context.Background()
	_, err := p.Process(ctx, fuel("v1", 0, 50))
	require.NoError(t, err)

	v, _ := p.vehicles.Get("v1")
	v.MarkClean()
	v.Meta.PendingDistance = math.Inf(1)

	_, err = p.Process(ctx, fuel("v1", 1, 49))
	require.Error(t, err)
	assert.True(t, fault.IsInternal(err))
	assert.Equal(t, at(1), v.Estimator.LastUpdate)
	assert.True(t, v.Dirty())
	assert.Equal(t, []int{1, 1}, snaps.touched)
}

func TestProcessCarriesPendingDistance(t *testing.T) {
	p := newProcessor(t, Deps{})
	ctx := context.Background()
	_, err := p.Process(ctx, fuel("v1", 0, 50))
	require.NoError(t, err)

	_, err = p.Process(ctx, model.TelemetryRecord{VehicleID: "v1", Timestamp: at(1), DistanceKm: model.Float(10)})
	assert.Equal(t, fault.Transient, fault.ClassOf(err))
	v, _ := p.vehicles.Get("v1")
	assert.InDelta(t, 10, v.Meta.PendingDistance, 1e-9)

	// 10 km at 0.1 per km predicts exactly the reported level.
	rec, err := p.Process(ctx, fuel("v1", 2, 49))
	require.NoError(t, err)
	assert.InDelta(t, 49, rec.Level, 1e-9)
	assert.Zero(t, v.Meta.PendingDistance)
}

func TestDistanceDelta(t *testing.T) {
	meta := vehiclestate.Meta{LastOdometer: model.Float(100)}

	d, odo := distanceDelta(meta, model.TelemetryRecord{OdometerKm: model.Float(112.5)})
	assert.InDelta(t, 12.5, d, 1e-9)
	assert.InDelta(t, 112.5, *odo, 1e-9)

	d, _ = distanceDelta(meta, model.TelemetryRecord{OdometerKm: model.Float(90)})
	assert.Zero(t, d)

	d, _ = distanceDelta(meta, model.TelemetryRecord{OdometerKm: model.Float(150), DistanceKm: model.Float(3)})
	assert.InDelta(t, 3, d, 1e-9)

	d, odo = distanceDelta(vehiclestate.Meta{}, model.TelemetryRecord{OdometerKm: model.Float(150)})
	assert.Zero(t, d)
	assert.NotNil(t, odo)

	d, _ = distanceDelta(meta, model.TelemetryRecord{DistanceKm: model.Float(-4)})
	assert.Zero(t, d)
}

// stationaryDrop feeds a 60% reading followed by eight 30% readings, one per
// minute, and returns the records.
func stationaryDrop(t *testing.T, p *Processor, id, fleet string) []*model.EstimateRecord {
	t.Helper()
	var out []*model.EstimateRecord
	for i := 0; i < 9; i++ {
		pct := 30.0
		if i == 0 {
			pct = 60
		}
		rec := fuel(id, i, pct)
		rec.FleetID = fleet
		r, err := p.Process(context.Background(), rec)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func eventsOf(recs []*model.EstimateRecord, kind model.EventKind) []model.Event {
	var out []model.Event
	for _, r := range recs {
		if r == nil {
			continue
		}
		for _, ev := range r.Events {
			if ev.Kind == kind {
				out = append(out, ev)
			}
		}
	}
	return out
}

func TestProcessStationaryDropRaisesTheftOnce(t *testing.T) {
	p := newProcessor(t, Deps{})
	recs := stationaryDrop(t, p, "v1", "")

	thefts := eventsOf(recs, model.EventTheft)
	require.Len(t, thefts, 1)
	assert.Equal(t, []model.EventKind{model.EventTheft}, kinds(recs[6]))
	ev := thefts[0].Theft
	assert.Equal(t, 5*time.Minute, ev.Duration)
	assert.False(t, ev.Systemic)
	assert.Equal(t, model.ActionInvestigateTheft, ev.Action)
	assert.Greater(t, ev.Magnitude, 25.0)
	assert.True(t, recs[8].BiasDetected)
}

func TestProcessMovingVehicleNoTheft(t *testing.T) {
	p := newProcessor(t, Deps{})
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		pct := 30.0
		if i == 0 {
			pct = 60
		}
		rec := fuel("v1", i, pct)
		rec.SpeedKmh = model.Float(70)
		r, err := p.Process(ctx, rec)
		require.NoError(t, err)
		assert.NotContains(t, kinds(r), model.EventTheft)
	}
}

func TestProcessFleetWideDropIsSystemic(t *testing.T) {
	p := newProcessor(t, Deps{})
	first := stationaryDrop(t, p, "v1", "north")
	second := stationaryDrop(t, p, "v2", "north")

	require.Len(t, eventsOf(first, model.EventTheft), 1)
	assert.False(t, eventsOf(first, model.EventTheft)[0].Theft.Systemic)

	thefts := eventsOf(second, model.EventTheft)
	require.Len(t, thefts, 1)
	assert.True(t, thefts[0].Theft.Systemic)
	assert.Equal(t, model.ActionInspectFleetSensors, thefts[0].Theft.Action)

	var signatures []string
	for _, ev := range eventsOf(second, model.EventFleetPattern) {
		signatures = append(signatures, ev.FleetPattern.Signature)
		assert.Equal(t, 2, ev.FleetPattern.FleetSize)
		assert.Equal(t, "north", ev.FleetID)
	}
	assert.ElementsMatch(t, []string{theft.SignatureBias, theft.SignatureTheftDrop}, signatures)
}

func TestProcessMaintenanceEscalation(t *testing.T) {
	p := newProcessor(t, Deps{})
	ctx := context.Background()
	var escalations []model.Event
	// +2 degrees per day from 90 ends at 98, six days short of 110.
	for i := 0; i < 5; i++ {
		rec := model.TelemetryRecord{
			VehicleID: "v1",
			Timestamp: t0.Add(time.Duration(i) * 24 * time.Hour),
			FuelPct:   model.Float(50),
			Channels:  map[string]float64{"coolant_temp": 90 + 2*float64(i), "unknown": 1},
		}
		r, err := p.Process(ctx, rec)
		require.NoError(t, err)
		for _, ev := range r.Events {
			if ev.Kind == model.EventMaintenance {
				escalations = append(escalations, ev)
			}
		}
	}
	require.Len(t, escalations, 1)
	m := escalations[0].Maintenance
	assert.Equal(t, "coolant_temp", m.Channel)
	assert.Equal(t, model.RiskHigh, m.Risk)
	require.NotNil(t, m.DaysToThreshold)
	assert.InDelta(t, 6, *m.DaysToThreshold, 1e-9)
}

func TestProcessMovesVehicleBetweenFleets(t *testing.T) {
	p := newProcessor(t, Deps{})
	ctx := context.Background()
	rec := fuel("v1", 0, 50)
	rec.FleetID = "a"
	_, err := p.Process(ctx, rec)
	require.NoError(t, err)

	rec = fuel("v1", 1, 50)
	rec.FleetID = "b"
	out, err := p.Process(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "b", out.FleetID)
	assert.Empty(t, p.fleet.Members("a"))
	assert.Equal(t, []string{"v1"}, p.fleet.Members("b"))

	// Records without a fleet keep the current one.
	out, err = p.Process(ctx, fuel("v1", 2, 50))
	require.NoError(t, err)
	assert.Equal(t, "b", out.FleetID)
}

func TestProcessPublishesOnBus(t *testing.T) {
	p := newProcessor(t, Deps{})
	sub := p.Bus().Subscribe()
	_, err := p.Process(context.Background(), fuel("v1", 0, 42))
	require.NoError(t, err)
	select {
	case rec := <-sub:
		assert.Equal(t, "v1", rec.VehicleID)
	case <-time.After(time.Second):
		t.Fatalf("no estimate published")
	}
}
