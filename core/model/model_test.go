package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfidenceRange(t *testing.T) {
	for _, v := range []float64{0, 0.5, 1} {
		if _, err := NewConfidence(v); err != nil {
			t.Fatalf("unexpected error for %v: %v", v, err)
		}
	}
	for _, v := range []float64{-0.01, 1.01, 85, math.NaN()} {
		if _, err := NewConfidence(v); err == nil {
			t.Fatalf("expected error for %v", v)
		}
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()).Float64())
	assert.Equal(t, 0.0, ClampConfidence(-3).Float64())
	assert.Equal(t, 1.0, ClampConfidence(42).Float64())
	assert.InDelta(t, 72.0, ClampConfidence(0.72).Percent(), 1e-9)
	assert.InDelta(t, 0.25, ClampConfidence(0.5).Mul(ClampConfidence(0.5)).Float64(), 1e-12)
}

func TestConfidenceJSONRejectsPercent(t *testing.T) {
	var ev RefuelEvent
	err := json.Unmarshal([]byte(`{"confidence": 85}`), &ev)
	if err == nil {
		t.Fatalf("percent-scaled confidence must be rejected")
	}
	require.NoError(t, json.Unmarshal([]byte(`{"confidence": 0.85}`), &ev))
	assert.InDelta(t, 0.85, ev.Confidence.Float64(), 1e-12)
}

func TestRiskLevelOrderingAndText(t *testing.T) {
	if !(RiskLow < RiskMedium && RiskMedium < RiskHigh && RiskHigh < RiskCritical) {
		t.Fatalf("risk levels not ordered")
	}
	b, err := json.Marshal(MaintenanceRiskRecord{Channel: "coolant_temp", Risk: RiskHigh})
	require.NoError(t, err)
	if !strings.Contains(string(b), `"risk":"HIGH"`) {
		t.Fatalf("unexpected encoding %s", b)
	}
	var rec MaintenanceRiskRecord
	require.NoError(t, json.Unmarshal(b, &rec))
	assert.Equal(t, RiskHigh, rec.Risk)
	_, err = ParseRiskLevel("severe")
	assert.Error(t, err)
}

func TestTelemetryRecordValidate(t *testing.T) {
	r := TelemetryRecord{Timestamp: time.Now()}
	assert.Error(t, r.Validate())
	r.VehicleID = "v1"
	assert.NoError(t, r.Validate())
	assert.Equal(t, DefaultFleet, r.Fleet())
	_, _, ok := r.Position()
	assert.False(t, ok)
	r.Lat, r.Lon = Float(48.85), Float(2.35)
	lat, lon, ok := r.Position()
	assert.True(t, ok)
	assert.Equal(t, 48.85, lat)
	assert.Equal(t, 2.35, lon)
}

func TestEventConstructors(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	ev := NewRefuel("v1", "f1", ts, RefuelEvent{LevelBefore: 10, LevelAfter: 90, Magnitude: 80})
	assert.Equal(t, EventRefuel, ev.Kind)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	require.NotNil(t, ev.Refuel)
	assert.Nil(t, ev.Theft)

	other := NewRefuel("v1", "f1", ts, RefuelEvent{})
	assert.NotEqual(t, ev.ID, other.ID)
}
