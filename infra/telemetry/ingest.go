// Package telemetry connects the pipeline to MQTT: inbound telemetry and
// admin commands, outbound estimates.
package telemetry

import (
	"context"
	"errors"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fueltrack/config"
	"github.com/kilianp07/fueltrack/core/logger"
	"github.com/kilianp07/fueltrack/core/model"
)

// Subscriber is the subscribe side of the MQTT client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
}

// Decommissioner removes a vehicle and its persisted state.
type Decommissioner interface {
	Decommission(ctx context.Context, vehicleID string) error
}

// Ingestor decodes telemetry messages onto a channel. Delivery blocks while
// the channel is full so back pressure reaches the broker connection.
type Ingestor struct {
	cfg   config.TelemetryConfig
	cli   Subscriber
	admin Decommissioner
	log   logger.Logger
	now   func() time.Time

	ctx context.Context
	out chan<- model.TelemetryRecord

	received prometheus.Counter
	invalid  prometheus.Counter
	commands prometheus.Counter
}

// NewIngestor creates an Ingestor. admin may be nil to ignore decommission
// commands. Counters are registered with reg when it is not nil.
func NewIngestor(cli Subscriber, cfg config.TelemetryConfig, admin Decommissioner, reg prometheus.Registerer, log logger.Logger) (*Ingestor, error) {
	in := &Ingestor{
		cfg:      cfg,
		cli:      cli,
		admin:    admin,
		log:      log,
		now:      time.Now,
		received: prometheus.NewCounter(prometheus.CounterOpts{Name: "fueltrack_telemetry_messages_total", Help: "Number of telemetry messages received"}),
		invalid:  prometheus.NewCounter(prometheus.CounterOpts{Name: "fueltrack_telemetry_invalid_total", Help: "Number of telemetry messages that could not be decoded"}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{Name: "fueltrack_admin_commands_total", Help: "Number of decommission commands received"}),
	}
	if reg != nil {
		for _, c := range []*prometheus.Counter{&in.received, &in.invalid, &in.commands} {
			if err := reg.Register(*c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					return nil, err
				}
				*c = are.ExistingCollector.(prometheus.Counter)
			}
		}
	}
	return in, nil
}

// Start subscribes to the telemetry and admin topics. Records are sent to
// out until ctx is done.
func (i *Ingestor) Start(ctx context.Context, out chan<- model.TelemetryRecord) error {
	i.ctx = ctx
	i.out = out
	if err := i.cli.Subscribe(i.cfg.Topic, i.cfg.QoS, i.onTelemetry); err != nil {
		return err
	}
	if i.admin != nil && i.cfg.DecommissionTopic != "" {
		if err := i.cli.Subscribe(i.cfg.DecommissionTopic, 1, i.onDecommission); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ingestor) onTelemetry(_ paho.Client, msg paho.Message) {
	i.received.Inc()
	rec, err := decodeRecord(msg.Payload(), i.cfg.Topic, msg.Topic(), i.now())
	if err != nil {
		i.invalid.Inc()
		i.log.Warnf("telemetry decode on %s: %v", msg.Topic(), err)
		return
	}
	select {
	case i.out <- rec:
	case <-i.ctx.Done():
	}
}

func (i *Ingestor) onDecommission(_ paho.Client, msg paho.Message) {
	i.commands.Inc()
	id := decodeVehicleID(msg.Payload())
	if id == "" {
		i.log.Warnf("decommission command without vehicle id")
		return
	}
	if err := i.admin.Decommission(i.ctx, id); err != nil {
		i.log.Errorf("decommission %s: %v", id, err)
	}
}
