// Package app wires configuration, storage, transport and the estimation
// pipeline into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fueltrack/config"
	"github.com/kilianp07/fueltrack/core/eventlog"
	coremetrics "github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/model"
	coremon "github.com/kilianp07/fueltrack/core/monitoring"
	"github.com/kilianp07/fueltrack/core/pipeline"
	"github.com/kilianp07/fueltrack/core/snapshot"
	"github.com/kilianp07/fueltrack/core/theft"
	"github.com/kilianp07/fueltrack/core/vehiclestate"
	"github.com/kilianp07/fueltrack/infra/logger"
	"github.com/kilianp07/fueltrack/infra/metrics"
	"github.com/kilianp07/fueltrack/infra/monitoring"
	"github.com/kilianp07/fueltrack/infra/mqtt"
	_ "github.com/kilianp07/fueltrack/infra/snapshot"
	"github.com/kilianp07/fueltrack/infra/telemetry"
)

// Service runs the pipeline fed by MQTT telemetry.
type Service struct {
	cfg       *config.Config
	log       logger.Logger
	Processor *pipeline.Processor
	persister *snapshot.Persister
	store     snapshot.Store
	events    eventlog.Store
	sink      coremetrics.MetricsSink

	client    *mqtt.PahoClient
	ingest    *telemetry.Ingestor
	publisher *telemetry.EstimatePublisher
}

// New creates a Service from the configuration. Nothing is started until Run.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	if !logger.SetLevel(cfg.Logging.Level) {
		logg.Warnf("unknown log level %q", cfg.Logging.Level)
	}

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	svc := &Service{cfg: cfg, log: logg}
	if err := svc.open(); err != nil {
		_ = svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) open() error {
	var err error
	if s.sink, err = coremetrics.NewMetricsSink(s.cfg.Metrics.Sinks); err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}
	if s.events, err = eventlog.Open(s.cfg.EventLog); err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	if s.store, err = snapshot.NewStore(s.cfg.Snapshot.Store); err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	vehicles := vehiclestate.NewStore()
	rec, _ := s.sink.(coremetrics.SnapshotRecorder)
	s.persister = snapshot.NewPersister(s.store, vehicles, s.cfg.Snapshot, logger.New("snapshot"), rec)

	s.Processor, err = pipeline.New(pipeline.Deps{
		Profiles:  s.cfg,
		Vehicles:  vehicles,
		Fleet:     theft.NewFleetAggregator(s.cfg.Fleet),
		Snapshots: s.persister,
		Events:    s.events,
		Sink:      s.sink,
		Logger:    logger.New("pipeline"),
		Options:   s.cfg.Pipeline,
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if !s.cfg.Telemetry.Enabled {
		return nil
	}
	if s.client, err = mqtt.NewPahoClient(s.cfg.MQTT); err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	var reg prometheus.Registerer
	if s.cfg.Metrics.HasSink("prometheus") {
		reg = prometheus.DefaultRegisterer
	}
	if s.ingest, err = telemetry.NewIngestor(s.client, s.cfg.Telemetry, s.Processor, reg, logger.New("ingest")); err != nil {
		return fmt.Errorf("ingestor: %w", err)
	}
	s.publisher = telemetry.NewEstimatePublisher(s.client, s.cfg.Telemetry, logger.New("publisher"))
	return nil
}

// Run restores persisted state, starts every component and blocks until ctx
// is canceled. Queued records are processed and a final snapshot is written
// before it returns.
func (s *Service) Run(ctx context.Context) error {
	n, err := s.Processor.Restore(ctx, s.store)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	s.log.Infow("state restored", map[string]any{"vehicles": n})

	var wg sync.WaitGroup
	// The persister outlives ctx so its final flush sees the drained pipeline.
	pctx, stopPersister := context.WithCancel(context.WithoutCancel(ctx))
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.persister.Run(pctx)
	}()

	if s.cfg.Metrics.HasSink("prometheus") {
		if err := metrics.RegisterBusCollector(prometheus.DefaultRegisterer, s.Processor.Bus()); err != nil {
			s.log.Warnf("bus collector: %v", err)
		}
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.ListenAddr, nil); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	in := make(chan model.TelemetryRecord, s.cfg.Pipeline.QueueSize)
	if s.ingest != nil {
		if err := s.ingest.Start(ctx, in); err != nil {
			stopPersister()
			wg.Wait()
			return fmt.Errorf("subscribe telemetry: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.publisher.Run(ctx, s.Processor.Bus())
		}()
	}

	s.Processor.Run(ctx, in)
	stopPersister()
	wg.Wait()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.client != nil {
		s.client.Disconnect()
	}
	var errs []error
	if s.events != nil {
		errs = append(errs, s.events.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
