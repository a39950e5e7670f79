package metrics

import (
	"errors"
	"testing"

	"github.com/kilianp07/fueltrack/core/model"
)

type estimateOnly struct{ n int }

func (s *estimateOnly) RecordEstimate(model.EstimateRecord) error { s.n++; return nil }

type full struct {
	NopSink
	events int
	err    error
}

func (s *full) RecordEvent(model.Event) error { s.events++; return s.err }

func TestMultiSinkForwardsOptionalRecorders(t *testing.T) {
	a := &estimateOnly{}
	b := &full{err: errors.New("down")}
	c := &full{}
	m := NewMultiSink(a, b, c)

	if err := m.RecordEstimate(model.EstimateRecord{}); err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if a.n != 1 {
		t.Fatalf("estimate not forwarded")
	}
	err := m.RecordEvent(model.Event{})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if b.events != 1 || c.events != 1 {
		t.Fatalf("every event recorder must be called: b=%d c=%d", b.events, c.events)
	}
	if err := m.RecordSnapshotCycle(SnapshotCycleEvent{Saved: 1}); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
}

func TestNewMetricsSinkEmpty(t *testing.T) {
	s, err := NewMetricsSink(nil)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if _, ok := s.(NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}
}
