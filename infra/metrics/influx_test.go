package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fueltrack/core/factory"
	coremetrics "github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/model"
)

type influxRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (r *influxRecorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, string(data))
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (r *influxRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.bodies) == 0 {
		return ""
	}
	return strings.TrimSpace(r.bodies[len(r.bodies)-1])
}

func TestInfluxSinkRecordEstimate(t *testing.T) {
	rec := &influxRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	defer sink.Close()

	ts := time.Unix(1714564800, 0)
	eff := 8.12345
	require.NoError(t, sink.RecordEstimate(model.EstimateRecord{
		VehicleID: "v1", FleetID: "north", Timestamp: ts,
		Level: 42.12345, LevelPct: 35.1, Uncertainty: 0.5, Efficiency: &eff,
	}))
	body := rec.last()
	assert.True(t, strings.HasPrefix(body, "fuel_estimate,"), body)
	assert.Contains(t, body, "vehicle_id=v1")
	assert.Contains(t, body, "fleet_id=north")
	assert.Contains(t, body, "level=42.123")
	assert.Contains(t, body, "efficiency=8.123")
	assert.Contains(t, body, "degraded=false")
	assert.True(t, strings.HasSuffix(body, " 1714564800000000000"), body)
}

func TestInfluxSinkRecordEvent(t *testing.T) {
	rec := &influxRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "org", Bucket: "bucket"})
	defer sink.Close()

	ev := model.NewTheft("v1", "north", time.Unix(1714564800, 0), model.TheftEvent{
		Magnitude:  12,
		Duration:   5 * time.Minute,
		Confidence: model.ClampConfidence(0.8),
		Geohash:    "u09tunq",
		Action:     model.ActionInvestigateTheft,
	})
	require.NoError(t, sink.RecordEvent(ev))
	body := rec.last()
	assert.True(t, strings.HasPrefix(body, "fuel_event,"), body)
	assert.Contains(t, body, "kind=theft")
	assert.Contains(t, body, "geohash=u09tunq")
	assert.Contains(t, body, "systemic=false")
	assert.Contains(t, body, "duration_s=300")
	assert.Contains(t, body, "confidence=0.8")
	assert.Contains(t, body, `event_id="`+ev.ID+`"`)
}

func TestInfluxSinkRecordSnapshotCycle(t *testing.T) {
	rec := &influxRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "org", Bucket: "bucket"})
	defer sink.Close()

	require.NoError(t, sink.RecordSnapshotCycle(coremetrics.SnapshotCycleEvent{Saved: 3, Failed: 0, Duration: time.Second, Time: time.Now()}))
	body := rec.last()
	assert.Contains(t, body, "snapshot_flush ")
	assert.Contains(t, body, "saved=3i")
	assert.Contains(t, body, "duration_ms=1000")
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

func TestSinkFactories(t *testing.T) {
	s, err := coremetrics.NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NopSink{}, s)

	s, err = coremetrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "prometheus"}})
	require.NoError(t, err)
	assert.IsType(t, &coremetrics.MultiSink{}, s)

	_, err = coremetrics.NewMetricsSink([]factory.ModuleConfig{{Type: "statsd"}})
	assert.Error(t, err)
}
