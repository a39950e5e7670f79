package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fueltrack/config"
	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/core/snapshot"
)

func TestServiceRunWithoutTransport(t *testing.T) {
	cfg := config.Default()
	cfg.EventLog.Backend = "sqlite"
	cfg.EventLog.Path = t.TempDir() + "/events.db"
	cfg.Snapshot.Store.Type = "sqlite"
	cfg.Snapshot.Store.Conf = map[string]any{"path": t.TempDir() + "/state.db"}
	require.NoError(t, cfg.Prepare())

	svc, err := New(&cfg)
	require.NoError(t, err)
	defer svc.Close()
	assert.Nil(t, svc.ingest)

	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	_, err = svc.Processor.Process(context.Background(), model.TelemetryRecord{VehicleID: "v1", Timestamp: ts, FuelPct: model.Float(50)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx))

	// The final flush persisted the vehicle.
	recs, err := svc.store.Load(context.Background(), "v1")
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
	bundles, errs := snapshot.Decode(recs)
	assert.Empty(t, errs)
	require.NotNil(t, bundles["v1"].Estimator)
	assert.InDelta(t, 60, bundles["v1"].Estimator.Level, 1e-9)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := config.Default()
	cfg.EventLog.Backend = "none"
	cfg.Snapshot.Store.Type = "etcd"
	require.NoError(t, cfg.Prepare())
	_, err := New(&cfg)
	assert.Error(t, err)
}
