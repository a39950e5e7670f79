package model

import (
	"errors"
	"time"
)

// DefaultFleet is used when a record carries no fleet id.
const DefaultFleet = "default"

// TelemetryRecord is one raw sample as delivered by the ingestion layer. Every
// measurement is optional except the vehicle id and the timestamp.
type TelemetryRecord struct {
	VehicleID string    `json:"vehicle_id"`
	FleetID   string    `json:"fleet_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	// FuelPct is the raw tank reading in percent. Nil means the sensor sent
	// nothing for this sample.
	FuelPct *float64 `json:"fuel_pct"`
	// DistanceKm is the distance driven since the previous sample.
	DistanceKm *float64 `json:"distance_km,omitempty"`
	// OdometerKm is the cumulative odometer, used when DistanceKm is absent.
	OdometerKm *float64 `json:"odometer_km,omitempty"`
	// FuelRate is the instantaneous consumption in volume units per hour.
	FuelRate *float64           `json:"fuel_rate_lph,omitempty"`
	SpeedKmh *float64           `json:"speed_kmh,omitempty"`
	Lat      *float64           `json:"lat,omitempty"`
	Lon      *float64           `json:"lon,omitempty"`
	Channels map[string]float64 `json:"channels,omitempty"`
}

var (
	errMissingVehicle   = errors.New("vehicle_id is required")
	errMissingTimestamp = errors.New("ts is required")
)

// Validate checks the identity fields. Measurement problems are handled by the
// estimator, not rejected here.
func (r TelemetryRecord) Validate() error {
	if r.VehicleID == "" {
		return errMissingVehicle
	}
	if r.Timestamp.IsZero() {
		return errMissingTimestamp
	}
	return nil
}

// Fleet returns the fleet id or DefaultFleet.
func (r TelemetryRecord) Fleet() string {
	if r.FleetID == "" {
		return DefaultFleet
	}
	return r.FleetID
}

// Position returns the coordinates when both are present.
func (r TelemetryRecord) Position() (lat, lon float64, ok bool) {
	if r.Lat == nil || r.Lon == nil {
		return 0, 0, false
	}
	return *r.Lat, *r.Lon, true
}

// Float returns a pointer to v. It keeps record literals in tests and tools short.
func Float(v float64) *float64 { return &v }
