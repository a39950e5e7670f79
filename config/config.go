package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fueltrack/core/efficiency"
	"github.com/kilianp07/fueltrack/core/estimator"
	"github.com/kilianp07/fueltrack/core/eventlog"
	"github.com/kilianp07/fueltrack/core/maintenance"
	"github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/pipeline"
	"github.com/kilianp07/fueltrack/core/snapshot"
	"github.com/kilianp07/fueltrack/core/theft"
	"github.com/kilianp07/fueltrack/infra/mqtt"
)

type Config struct {
	MQTT        mqtt.Config        `json:"mqtt"`
	Telemetry   TelemetryConfig    `json:"telemetry"`
	Estimator   estimator.Config   `json:"estimator"`
	Efficiency  efficiency.Config  `json:"efficiency"`
	Theft       theft.Config       `json:"theft"`
	Fleet       theft.FleetConfig  `json:"fleet"`
	Maintenance maintenance.Config `json:"maintenance"`
	// VehicleClasses override the base sections per class of vehicle.
	VehicleClasses map[string]VehicleClass `json:"vehicle_classes"`
	// Vehicles maps vehicle ids to class names.
	Vehicles     map[string]string `json:"vehicles"`
	DefaultClass string            `json:"default_class"`
	Pipeline     pipeline.Options  `json:"pipeline"`
	Snapshot     snapshot.Config   `json:"snapshot"`
	EventLog     eventlog.Config   `json:"event_log"`
	Metrics      metrics.Config    `json:"metrics"`
	Logging      LoggingConfig     `json:"logging"`
	Sentry       SentryConfig      `json:"sentry"`

	profiles map[string]pipeline.Profile
}

// Default returns the configuration used for every key a file leaves out.
func Default() Config {
	return Config{
		Estimator: estimator.Config{
			TankCapacity:            120,
			FuelPerKm:               0.3,
			ProcessNoise:            0.05,
			MeasurementNoise:        4,
			InitialUncertainty:      25,
			RecalibratedUncertainty: 1,
			NoiseFloor:              0.1,
			BiasWindow:              4,
			BiasPenalty:             4,
			RefuelThreshold:         10,
			RefuelThresholdFraction: 0.1,
			RefuelWindow:            15 * time.Minute,
			SensorFaultThreshold:    10,
		},
		Efficiency: efficiency.Config{
			MinDistanceKm: 50,
			MinFuel:       5,
			MinEfficiency: 0.5,
			MaxEfficiency: 30,
			Alpha:         0.2,
		},
		Theft: theft.Config{
			SpeedThresholdKmh: 5,
			MinDrop:           5,
			MinDropFraction:   0.05,
			MinDuration:       10 * time.Minute,
			RoundStepPct:      5,
			RoundTolerancePct: 0.25,
			RoundPenalty:      0.7,
			MinConfidence:     0.5,
			RecoveryFraction:  0.5,
			GeohashPrecision:  7,
		},
		Fleet: theft.FleetConfig{
			Window:            time.Hour,
			FractionThreshold: 0.3,
			MinVehicles:       3,
		},
		Maintenance: maintenance.Config{
			MinSamples:            10,
			FullConfidenceSamples: 30,
			MaxHistory:            200,
			CriticalDays:          3,
			HighDays:              7,
			MediumDays:            30,
			TentativeBelow:        0.5,
			ScoreInterval:         time.Hour,
		},
	}
}

// Load reads the file at path, applies K_ prefixed environment overrides and
// validates the result. Keys missing from the file keep their Default value.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Prepare applies section defaults, validates every section and resolves the
// vehicle class profiles. Load calls it; configurations built in code must
// call it before ProfileFor.
func (c *Config) Prepare() error {
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	return c.buildProfiles()
}

// SetDefaults fills the zero values of the infrastructure sections.
func (c *Config) SetDefaults() {
	c.Telemetry.SetDefaults()
	c.Pipeline.SetDefaults()
	c.Snapshot.SetDefaults()
	c.EventLog.SetDefaults()
	c.Metrics.SetDefaults()
	c.Logging.SetDefaults()
	c.Sentry.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		err  error
	}{
		{"telemetry", c.Telemetry.Validate()},
		{"estimator", c.Estimator.Validate()},
		{"efficiency", c.Efficiency.Validate()},
		{"theft", c.Theft.Validate()},
		{"fleet", c.Fleet.Validate()},
		{"maintenance", c.Maintenance.Validate()},
		{"pipeline", c.Pipeline.Validate()},
		{"snapshot", c.Snapshot.Validate()},
		{"event_log", c.EventLog.Validate()},
		{"logging", c.Logging.Validate()},
		{"vehicles", c.validateVehicles()},
	}
	var errs []error
	for _, ch := range checks {
		if ch.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.name, ch.err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateVehicles() error {
	if c.DefaultClass != "" {
		if _, ok := c.VehicleClasses[c.DefaultClass]; !ok {
			return fmt.Errorf("default_class %q is not defined", c.DefaultClass)
		}
	}
	for id, class := range c.Vehicles {
		if _, ok := c.VehicleClasses[class]; !ok {
			return fmt.Errorf("vehicle %s: class %q is not defined", id, class)
		}
	}
	return nil
}
