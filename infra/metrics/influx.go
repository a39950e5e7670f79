package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/infra/logger"
)

// InfluxSink writes estimates and events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// InfluxConfig configures InfluxSink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordEstimate writes one fuel_estimate point.
func (s *InfluxSink) RecordEstimate(rec model.EstimateRecord) error {
	p := write.NewPointWithMeasurement("fuel_estimate").
		AddTag("vehicle_id", rec.VehicleID).
		AddTag("fleet_id", rec.FleetID).
		AddField("level", round3(rec.Level)).
		AddField("level_pct", round3(rec.LevelPct)).
		AddField("uncertainty", round3(rec.Uncertainty)).
		AddField("bias_detected", rec.BiasDetected).
		AddField("degraded", rec.Degraded).
		AddField("events", len(rec.Events))
	if rec.Efficiency != nil {
		p = p.AddField("efficiency", round3(*rec.Efficiency))
	}
	return s.write(p.SetTime(rec.Timestamp))
}

// RecordEvent writes one fuel_event point with the payload's key figures.
func (s *InfluxSink) RecordEvent(ev model.Event) error {
	p := write.NewPointWithMeasurement("fuel_event").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("fleet_id", ev.FleetID).
		AddTag("kind", string(ev.Kind)).
		AddField("event_id", ev.ID)
	switch {
	case ev.Refuel != nil:
		p = p.AddField("magnitude", round3(ev.Refuel.Magnitude)).
			AddField("confidence", round3(ev.Refuel.Confidence.Float64()))
	case ev.Theft != nil:
		p = p.AddField("magnitude", round3(ev.Theft.Magnitude)).
			AddField("confidence", round3(ev.Theft.Confidence.Float64())).
			AddField("duration_s", ev.Theft.Duration.Seconds()).
			AddTag("systemic", strconv.FormatBool(ev.Theft.Systemic))
		if ev.Theft.Geohash != "" {
			p = p.AddTag("geohash", ev.Theft.Geohash)
		}
	case ev.SensorFault != nil:
		p = p.AddField("skip_count", ev.SensorFault.SkipCount)
	case ev.Maintenance != nil:
		p = p.AddTag("channel", ev.Maintenance.Channel).
			AddTag("risk", ev.Maintenance.Risk.String()).
			AddField("confidence", round3(ev.Maintenance.Confidence.Float64()))
		if d := ev.Maintenance.DaysToThreshold; d != nil {
			p = p.AddField("days_to_threshold", round3(*d))
		}
	case ev.FleetPattern != nil:
		p = p.AddTag("signature", ev.FleetPattern.Signature).
			AddField("affected", ev.FleetPattern.Affected).
			AddField("fraction", round3(ev.FleetPattern.Fraction))
	}
	return s.write(p.SetTime(ev.Timestamp))
}

// RecordSnapshotCycle writes one snapshot_flush point.
func (s *InfluxSink) RecordSnapshotCycle(ev coremetrics.SnapshotCycleEvent) error {
	p := write.NewPointWithMeasurement("snapshot_flush").
		AddField("saved", ev.Saved).
		AddField("failed", ev.Failed).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// Close flushes and releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
