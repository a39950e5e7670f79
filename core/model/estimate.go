package model

import "time"

// EstimateRecord is emitted once per accepted or degraded update and handed to
// storage and transport collaborators.
type EstimateRecord struct {
	VehicleID    string    `json:"vehicle_id"`
	FleetID      string    `json:"fleet_id"`
	Timestamp    time.Time `json:"ts"`
	Level        float64   `json:"level"`
	LevelPct     float64   `json:"level_pct"`
	Uncertainty  float64   `json:"uncertainty"`
	BiasDetected bool      `json:"bias_detected"`
	Degraded     bool      `json:"degraded"`
	// Efficiency is nil until the first efficiency window closes.
	Efficiency *float64 `json:"efficiency"`
	Events     []Event  `json:"events"`
}
