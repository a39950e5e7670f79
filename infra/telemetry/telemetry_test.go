package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fueltrack/config"
	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/infra/logger"
	"github.com/kilianp07/fueltrack/internal/eventbus"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic, kind string
	payload     []byte
}

type fakeClient struct {
	mu       sync.Mutex
	handlers map[string]paho.MessageHandler
	out      []published
	err      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]paho.MessageHandler{}}
}

func (f *fakeClient) Subscribe(topic string, _ byte, h paho.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeClient) Publish(topic, kind string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{topic, kind, payload})
	return nil
}

func (f *fakeClient) deliver(pattern, topic, payload string) {
	f.mu.Lock()
	h := f.handlers[pattern]
	f.mu.Unlock()
	h(nil, fakeMessage{topic: topic, payload: []byte(payload)})
}

func (f *fakeClient) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.out...)
}

type fakeAdmin struct {
	ids []string
}

func (a *fakeAdmin) Decommission(_ context.Context, id string) error {
	a.ids = append(a.ids, id)
	return nil
}

func testConfig() config.TelemetryConfig {
	cfg := config.TelemetryConfig{EstimatePrefix: "fueltrack/estimate"}
	cfg.SetDefaults()
	return cfg
}

func TestParseTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		raw  string
		want time.Time
	}{
		{"", now},
		{"null", now},
		{`"2024-05-01T10:00:00+02:00"`, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		{"1714564800", time.Unix(1714564800, 0).UTC()},
		{"1714564800500", time.UnixMilli(1714564800500).UTC()},
	}
	for _, c := range cases {
		got, err := parseTimestamp(json.RawMessage(c.raw), now)
		require.NoError(t, err, c.raw)
		assert.True(t, c.want.Equal(got), "%s: got %v want %v", c.raw, got, c.want)
		assert.Equal(t, time.UTC, got.Location())
	}
	_, err := parseTimestamp(json.RawMessage(`"yesterday"`), now)
	assert.Error(t, err)
	_, err = parseTimestamp(json.RawMessage(`true`), now)
	assert.Error(t, err)
}

func TestIDFromTopic(t *testing.T) {
	assert.Equal(t, "truck-7", idFromTopic("fleet/+/telemetry", "fleet/truck-7/telemetry"))
	assert.Equal(t, "truck-7", idFromTopic("fueltrack/telemetry/+", "fueltrack/telemetry/truck-7"))
	assert.Equal(t, "truck-7", idFromTopic("fueltrack/#", "fueltrack/telemetry/truck-7"))
}

func TestDecodeVehicleID(t *testing.T) {
	assert.Equal(t, "v1", decodeVehicleID([]byte(`{"vehicle_id":"v1"}`)))
	assert.Equal(t, "v2", decodeVehicleID([]byte(" v2\n")))
	assert.Equal(t, "", decodeVehicleID([]byte(`{}`)))
}

func TestDecodeGarbledFuelReading(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec, err := Decode([]byte(`{"vehicle_id":"v1","ts":"2024-05-01T08:00:00Z","fuel_pct":"ERR","distance_km":3,"speed_kmh":0}`), now)
	require.NoError(t, err)
	require.NotNil(t, rec.FuelPct)
	assert.True(t, math.IsNaN(*rec.FuelPct))
	require.NotNil(t, rec.DistanceKm)
	assert.Equal(t, 3.0, *rec.DistanceKm)
	require.NotNil(t, rec.SpeedKmh)

	cases := map[string]*float64{
		`{"vehicle_id":"v1","fuel_pct":"42.5"}`: model.Float(42.5),
		`{"vehicle_id":"v1","fuel_pct":42.5}`:   model.Float(42.5),
		`{"vehicle_id":"v1","fuel_pct":null}`:   nil,
		`{"vehicle_id":"v1"}`:                   nil,
	}
	for payload, want := range cases {
		rec, err := Decode([]byte(payload), now)
		require.NoError(t, err, payload)
		assert.Equal(t, want, rec.FuelPct, payload)
	}
	for _, payload := range []string{`{"vehicle_id":"v1","fuel_pct":true}`, `{"vehicle_id":"v1","fuel_pct":{"raw":1}}`} {
		rec, err := Decode([]byte(payload), now)
		require.NoError(t, err, payload)
		require.NotNil(t, rec.FuelPct, payload)
		assert.True(t, math.IsNaN(*rec.FuelPct), payload)
	}
}

func TestIngestorDecodesAndForwards(t *testing.T) {
	cli := newFakeClient()
	reg := prometheus.NewRegistry()
	in, err := NewIngestor(cli, testConfig(), nil, reg, logger.NopLogger{})
	require.NoError(t, err)

	out := make(chan model.TelemetryRecord, 4)
	require.NoError(t, in.Start(context.Background(), out))

	cli.deliver("fueltrack/telemetry/+", "fueltrack/telemetry/v1", `{"ts":1714564800,"fuel_pct":55.5,"speed_kmh":0}`)
	cli.deliver("fueltrack/telemetry/+", "fueltrack/telemetry/v1", `not json`)
	cli.deliver("fueltrack/telemetry/+", "fueltrack/telemetry/v2", `{"vehicle_id":"other","fleet_id":"north","ts":"2024-05-01T12:00:00Z"}`)

	require.Len(t, out, 2)
	first := <-out
	assert.Equal(t, "v1", first.VehicleID)
	require.NotNil(t, first.FuelPct)
	assert.InDelta(t, 55.5, *first.FuelPct, 1e-9)
	assert.Equal(t, int64(1714564800), first.Timestamp.Unix())

	second := <-out
	assert.Equal(t, "other", second.VehicleID)
	assert.Equal(t, "north", second.Fleet())
	assert.Nil(t, second.FuelPct)

	assert.Equal(t, 3.0, testutil.ToFloat64(in.received))
	assert.Equal(t, 1.0, testutil.ToFloat64(in.invalid))
}

func TestIngestorStopsBlockingOnCancel(t *testing.T) {
	cli := newFakeClient()
	in, err := NewIngestor(cli, testConfig(), nil, nil, logger.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.TelemetryRecord)
	require.NoError(t, in.Start(ctx, out))

	done := make(chan struct{})
	go func() {
		cli.deliver("fueltrack/telemetry/+", "fueltrack/telemetry/v1", `{"fuel_pct":10}`)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler still blocked after cancel")
	}
}

func TestIngestorDecommission(t *testing.T) {
	cli := newFakeClient()
	admin := &fakeAdmin{}
	in, err := NewIngestor(cli, testConfig(), admin, nil, logger.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, in.Start(context.Background(), make(chan model.TelemetryRecord, 1)))

	topic := "fueltrack/admin/decommission"
	cli.deliver(topic, topic, `{"vehicle_id":"v1"}`)
	cli.deliver(topic, topic, `v2`)
	cli.deliver(topic, topic, `{}`)

	assert.Equal(t, []string{"v1", "v2"}, admin.ids)
	assert.Equal(t, 3.0, testutil.ToFloat64(in.commands))
}

func TestIngestorReusesRegisteredCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewIngestor(newFakeClient(), testConfig(), nil, reg, logger.NopLogger{})
	require.NoError(t, err)
	b, err := NewIngestor(newFakeClient(), testConfig(), nil, reg, logger.NopLogger{})
	require.NoError(t, err)
	a.received.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(b.received))
}

func TestEstimatePublisher(t *testing.T) {
	cli := newFakeClient()
	pub := NewEstimatePublisher(cli, testConfig(), logger.NopLogger{})
	bus := eventbus.NewTyped[model.EstimateRecord]()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Run(ctx, bus)
		close(done)
	}()

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		bus.Publish(model.EstimateRecord{VehicleID: "v1", Level: 42})
		return len(cli.published()) > 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	got := cli.published()[0]
	assert.Equal(t, "fueltrack/estimate/v1", got.topic)
	assert.Equal(t, "estimate", got.kind)
	var rec model.EstimateRecord
	require.NoError(t, json.Unmarshal(got.payload, &rec))
	assert.Equal(t, 42.0, rec.Level)
}

func TestEstimatePublisherDisabled(t *testing.T) {
	cli := newFakeClient()
	cfg := testConfig()
	cfg.EstimatePrefix = ""
	pub := NewEstimatePublisher(cli, cfg, logger.NopLogger{})
	require.NoError(t, pub.Publish(model.EstimateRecord{VehicleID: "v1"}))
	assert.Empty(t, cli.published())

	cli.err = errors.New("broker down")
	pub = NewEstimatePublisher(cli, testConfig(), logger.NopLogger{})
	assert.Error(t, pub.Publish(model.EstimateRecord{VehicleID: "v1"}))
}
