package config

import (
	"fmt"
	"strings"
)

// TelemetryConfig holds the MQTT topics of the service.
type TelemetryConfig struct {
	Enabled bool `json:"enabled"`
	// Topic is subscribed for inbound telemetry and may contain wildcards.
	Topic string `json:"topic"`
	// EstimatePrefix is followed by the vehicle id when publishing estimates.
	// Publishing is disabled when empty.
	EstimatePrefix    string `json:"estimate_topic_prefix"`
	DecommissionTopic string `json:"decommission_topic"`
	QoS               byte   `json:"qos"`
}

func (c *TelemetryConfig) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "fueltrack/telemetry/+"
	}
	if c.DecommissionTopic == "" {
		c.DecommissionTopic = "fueltrack/admin/decommission"
	}
}

func (c TelemetryConfig) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2")
	}
	if strings.ContainsAny(c.EstimatePrefix, "+#") {
		return fmt.Errorf("estimate_topic_prefix must not contain wildcards")
	}
	return nil
}

// EstimateTopic returns the topic for a vehicle, or "" when publishing is
// disabled.
func (c TelemetryConfig) EstimateTopic(vehicleID string) string {
	if c.EstimatePrefix == "" {
		return ""
	}
	return strings.TrimSuffix(c.EstimatePrefix, "/") + "/" + vehicleID
}
