package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the payload carried by an Event.
type EventKind string

const (
	EventRefuel       EventKind = "refuel"
	EventTheft        EventKind = "theft"
	EventSensorFault  EventKind = "sensor_fault"
	EventMaintenance  EventKind = "maintenance"
	EventFleetPattern EventKind = "fleet_pattern"
)

// Recommended operator actions for theft candidates.
const (
	ActionInvestigateTheft    = "investigate_theft"
	ActionInspectFleetSensors = "inspect_fleet_sensors"
)

// Event is an immutable record of something detected for a vehicle. Exactly one
// payload matching Kind is set.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	VehicleID string    `json:"vehicle_id"`
	FleetID   string    `json:"fleet_id"`
	Timestamp time.Time `json:"ts"`

	Refuel       *RefuelEvent           `json:"refuel,omitempty"`
	Theft        *TheftEvent            `json:"theft,omitempty"`
	SensorFault  *SensorFaultEvent      `json:"sensor_fault,omitempty"`
	Maintenance  *MaintenanceRiskRecord `json:"maintenance,omitempty"`
	FleetPattern *FleetPatternEvent     `json:"fleet_pattern,omitempty"`
}

func newEvent(kind EventKind, vehicleID, fleetID string, ts time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		VehicleID: vehicleID,
		FleetID:   fleetID,
		Timestamp: ts.UTC(),
	}
}

// NewRefuel wraps a refuel payload.
func NewRefuel(vehicleID, fleetID string, ts time.Time, p RefuelEvent) Event {
	ev := newEvent(EventRefuel, vehicleID, fleetID, ts)
	ev.Refuel = &p
	return ev
}

// NewTheft wraps a theft payload.
func NewTheft(vehicleID, fleetID string, ts time.Time, p TheftEvent) Event {
	ev := newEvent(EventTheft, vehicleID, fleetID, ts)
	ev.Theft = &p
	return ev
}

// NewSensorFault wraps a sensor fault payload.
func NewSensorFault(vehicleID, fleetID string, ts time.Time, p SensorFaultEvent) Event {
	ev := newEvent(EventSensorFault, vehicleID, fleetID, ts)
	ev.SensorFault = &p
	return ev
}

// NewMaintenance wraps a maintenance risk record.
func NewMaintenance(vehicleID, fleetID string, ts time.Time, p MaintenanceRiskRecord) Event {
	ev := newEvent(EventMaintenance, vehicleID, fleetID, ts)
	ev.Maintenance = &p
	return ev
}

// NewFleetPattern wraps a fleet pattern payload. VehicleID is the vehicle whose
// sample crossed the threshold.
func NewFleetPattern(vehicleID, fleetID string, ts time.Time, p FleetPatternEvent) Event {
	ev := newEvent(EventFleetPattern, vehicleID, fleetID, ts)
	ev.FleetPattern = &p
	return ev
}

// RefuelEvent records a sudden level rise that reset the estimator.
type RefuelEvent struct {
	LevelBefore float64    `json:"level_before"`
	LevelAfter  float64    `json:"level_after"`
	Magnitude   float64    `json:"magnitude"`
	Confidence  Confidence `json:"confidence"`
}

// TheftEvent records a fuel drop that consumption does not explain.
type TheftEvent struct {
	LevelBefore float64       `json:"level_before"`
	LevelAfter  float64       `json:"level_after"`
	Magnitude   float64       `json:"magnitude"`
	Duration    time.Duration `json:"duration"`
	Confidence  Confidence    `json:"confidence"`
	// Geohash locates the vehicle when the drop was confirmed, if known.
	Geohash string `json:"geohash,omitempty"`
	// Systemic is set when the drop matches a fleet-wide pattern.
	Systemic bool   `json:"systemic"`
	Action   string `json:"recommended_action"`
}

// SensorFaultEvent is raised once when consecutive invalid readings reach the
// escalation threshold.
type SensorFaultEvent struct {
	SkipCount int    `json:"skip_count"`
	Reason    string `json:"reason"`
}

// FleetPatternEvent reports an anomaly signature shared by a large fraction of
// a fleet within the rolling window.
type FleetPatternEvent struct {
	Signature string        `json:"signature"`
	Affected  int           `json:"affected"`
	FleetSize int           `json:"fleet_size"`
	Fraction  float64       `json:"fraction"`
	Window    time.Duration `json:"window"`
}

// MaintenanceStatus tells whether a risk record carries a projection.
type MaintenanceStatus string

const (
	MaintenanceScored           MaintenanceStatus = "scored"
	MaintenanceInsufficientData MaintenanceStatus = "insufficient_data"
)

// MaintenanceRiskRecord is the trend projection for one monitored channel.
type MaintenanceRiskRecord struct {
	Channel string            `json:"channel"`
	Status  MaintenanceStatus `json:"status"`
	Samples int               `json:"samples"`
	// Slope is the fitted trend in channel units per day.
	Slope     float64 `json:"slope"`
	LastValue float64 `json:"last_value"`
	Threshold float64 `json:"threshold"`
	// DaysToThreshold is nil when the trend never reaches the threshold.
	DaysToThreshold *float64   `json:"days_to_threshold"`
	RSquared        float64    `json:"r_squared"`
	Confidence      Confidence `json:"confidence"`
	Risk            RiskLevel  `json:"risk"`
	// Tentative flags projections whose confidence is below the configured
	// floor, so an urgent but poorly fitted record stands apart.
	Tentative bool `json:"tentative"`
}

// Scored reports whether the record carries a projection.
func (r MaintenanceRiskRecord) Scored() bool { return r.Status == MaintenanceScored }
