package telemetry

import (
	"context"
	"encoding/json"

	"github.com/kilianp07/fueltrack/config"
	"github.com/kilianp07/fueltrack/core/logger"
	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/internal/eventbus"
)

// Publisher is the publish side of the MQTT client.
type Publisher interface {
	Publish(topic, kind string, payload []byte) error
}

// EstimatePublisher forwards estimate records from the bus to per-vehicle
// topics.
type EstimatePublisher struct {
	cfg config.TelemetryConfig
	cli Publisher
	log logger.Logger
}

func NewEstimatePublisher(cli Publisher, cfg config.TelemetryConfig, log logger.Logger) *EstimatePublisher {
	return &EstimatePublisher{cfg: cfg, cli: cli, log: log}
}

// Run publishes every record received on bus until ctx is done or the bus
// closes.
func (p *EstimatePublisher) Run(ctx context.Context, bus *eventbus.TypedBus[model.EstimateRecord]) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-sub:
			if !ok {
				return
			}
			if err := p.Publish(rec); err != nil {
				p.log.Errorf("publish estimate for %s: %v", rec.VehicleID, err)
			}
		}
	}
}

// Publish sends one record. It is a no-op when no estimate topic is set.
func (p *EstimatePublisher) Publish(rec model.EstimateRecord) error {
	topic := p.cfg.EstimateTopic(rec.VehicleID)
	if topic == "" {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.cli.Publish(topic, "estimate", payload)
}
