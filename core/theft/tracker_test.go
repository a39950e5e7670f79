package theft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fueltrack/core/model"
)

var t0 = time.Date(2024, 6, 3, 22, 0, 0, 0, time.UTC)

func TestTrackerReportsSustainedDropOnce(t *testing.T) {
	cfg := testConfig()
	var tr Tracker
	assert.Nil(t, tr.Observe(cfg, capacity, 60, t0, still()))
	assert.Nil(t, tr.Observe(cfg, capacity, 50, t0.Add(time.Minute), still()))
	assert.True(t, tr.Candidate)

	ev := tr.Observe(cfg, capacity, 50, t0.Add(11*time.Minute), still())
	require.NotNil(t, ev)
	assert.Equal(t, 10*time.Minute, ev.Duration)
	assert.InDelta(t, 60, ev.LevelBefore, 1e-9)

	assert.Nil(t, tr.Observe(cfg, capacity, 50, t0.Add(20*time.Minute), still()))
	assert.InDelta(t, 50, tr.Baseline, 1e-9)
}

func TestTrackerDipRecovers(t *testing.T) {
	cfg := testConfig()
	var tr Tracker
	tr.Observe(cfg, capacity, 60, t0, still())
	tr.Observe(cfg, capacity, 50, t0.Add(time.Minute), still())
	tr.Observe(cfg, capacity, 58, t0.Add(2*time.Minute), still())
	assert.False(t, tr.Candidate)

	assert.Nil(t, tr.Observe(cfg, capacity, 50, t0.Add(12*time.Minute), still()), "duration restarts after recovery")
	assert.True(t, tr.Candidate)
	assert.Equal(t, t0.Add(12*time.Minute), tr.DropStart)
}

func TestTrackerMovementRebases(t *testing.T) {
	cfg := testConfig()
	var tr Tracker
	tr.Observe(cfg, capacity, 60, t0, still())
	tr.Observe(cfg, capacity, 40, t0.Add(time.Minute), Motion{SpeedKmh: model.Float(60)})
	assert.InDelta(t, 40, tr.Baseline, 1e-9)
	assert.False(t, tr.Candidate)
	assert.Nil(t, tr.Observe(cfg, capacity, 40, t0.Add(30*time.Minute), still()))
}

func TestTrackerFollowsRises(t *testing.T) {
	cfg := testConfig()
	var tr Tracker
	tr.Observe(cfg, capacity, 60, t0, still())
	tr.Observe(cfg, capacity, 62, t0.Add(time.Minute), still())
	assert.InDelta(t, 62, tr.Baseline, 1e-9)
	tr.Rebase(100)
	assert.InDelta(t, 100, tr.Baseline, 1e-9)
	assert.False(t, tr.Candidate)
}

func TestTrackerValidate(t *testing.T) {
	assert.NoError(t, Tracker{}.Validate(capacity))
	assert.NoError(t, Tracker{Baseline: 40, HasBaseline: true}.Validate(capacity))
	assert.Error(t, Tracker{Baseline: capacity + 1, HasBaseline: true}.Validate(capacity))
	assert.Error(t, Tracker{Baseline: 40, HasBaseline: true, Candidate: true}.Validate(capacity))
}
