package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/fueltrack/core/model"
)

var t0 = time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)

func sampleEvents() []model.Event {
	return []model.Event{
		model.NewRefuel("v1", "north", t0, model.RefuelEvent{LevelBefore: 10, LevelAfter: 100, Magnitude: 90}),
		model.NewTheft("v2", "north", t0.Add(time.Hour), model.TheftEvent{Magnitude: 30, Action: model.ActionInvestigateTheft}),
		model.NewSensorFault("v1", "south", t0.Add(2*time.Hour), model.SensorFaultEvent{SkipCount: 10}),
	}
}

func exercise(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range sampleEvents() {
		if err := store.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	out, err := store.Query(ctx, Query{VehicleID: "v1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 || out[0].Kind != model.EventRefuel || out[1].Kind != model.EventSensorFault {
		t.Fatalf("unexpected events %+v", out)
	}
	out, _ = store.Query(ctx, Query{Kind: model.EventTheft})
	if len(out) != 1 || out[0].Theft == nil || out[0].Theft.Magnitude != 30 {
		t.Fatalf("theft payload lost: %+v", out)
	}
	out, _ = store.Query(ctx, Query{Start: t0.Add(30 * time.Minute), End: t0.Add(90 * time.Minute)})
	if len(out) != 1 || out[0].VehicleID != "v2" {
		t.Fatalf("time range filter failed: %+v", out)
	}
	out, _ = store.Query(ctx, Query{Limit: 2})
	if len(out) != 2 {
		t.Fatalf("limit ignored: %d", len(out))
	}
}

func TestRotatingJSONLStore(t *testing.T) {
	store, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "logs", "events.jsonl"), 1, 2, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	exercise(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore("file:events_test.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	exercise(t, store)

	dup := sampleEvents()[0]
	if err := store.Append(context.Background(), dup); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestConfigAndOpen(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if err := (Config{Backend: "kafka", Path: "x"}).Validate(); err == nil {
		t.Fatalf("expected unknown backend error")
	}
	s, err := Open(Config{Backend: "none"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.(NopStore); !ok {
		t.Fatalf("expected NopStore, got %T", s)
	}
}
