package maintenance

import (
	"math"
	"sort"
	"time"

	"github.com/kilianp07/fueltrack/core/fault"
	"github.com/kilianp07/fueltrack/core/model"
)

// ChannelState is the bounded history of one channel plus its last score.
type ChannelState struct {
	Points     []Point                      `json:"points"`
	Last       *model.MaintenanceRiskRecord `json:"last,omitempty"`
	LastScored time.Time                    `json:"last_scored"`
}

// State holds every monitored channel of a vehicle.
type State struct {
	Channels map[string]*ChannelState `json:"channels"`
}

// Update is the outcome of scoring one channel.
type Update struct {
	Record model.MaintenanceRiskRecord
	// Escalated is true when the risk level rose above the previous score.
	Escalated bool
}

// Observe records the configured channels present in values and rescores
// those whose interval elapsed. Unknown and non-finite channels are skipped.
func (s *State) Observe(cfg Config, values map[string]float64, ts time.Time) []Update {
	if len(values) == 0 {
		return nil
	}
	if s.Channels == nil {
		s.Channels = map[string]*ChannelState{}
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Update
	for _, name := range names {
		chCfg, ok := cfg.Channels[name]
		v := values[name]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		cs, ok := s.Channels[name]
		if !ok {
			cs = &ChannelState{}
			s.Channels[name] = cs
		}
		if !cs.add(Point{Timestamp: ts, Value: v}, cfg.MaxHistory) {
			continue
		}
		if !cs.LastScored.IsZero() && ts.Sub(cs.LastScored) < cfg.ScoreInterval {
			continue
		}
		rec := Score(cfg, name, chCfg, cs.Points)
		if !rec.Scored() {
			continue
		}
		up := Update{Record: rec, Escalated: cs.Last != nil && rec.Risk > cs.Last.Risk}
		if cs.Last == nil && rec.Risk > model.RiskLow {
			up.Escalated = true
		}
		cs.Last = &rec
		cs.LastScored = ts
		out = append(out, up)
	}
	return out
}

// Records returns the last scored record per channel.
func (s *State) Records() []model.MaintenanceRiskRecord {
	out := make([]model.MaintenanceRiskRecord, 0, len(s.Channels))
	for _, cs := range s.Channels {
		if cs.Last != nil {
			out = append(out, *cs.Last)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (cs *ChannelState) add(p Point, limit int) bool {
	if n := len(cs.Points); n > 0 && !p.Timestamp.After(cs.Points[n-1].Timestamp) {
		return false
	}
	cs.Points = append(cs.Points, p)
	if over := len(cs.Points) - limit; over > 0 {
		cs.Points = append(cs.Points[:0], cs.Points[over:]...)
	}
	return true
}

// Validate checks a restored state.
func (s State) Validate(cfg Config) error {
	const restore = "maintenance.restore"
	for name, cs := range s.Channels {
		if cs == nil {
			return fault.Invariantf(restore, "channel %s has no state", name)
		}
		if len(cs.Points) > cfg.MaxHistory {
			return fault.Invariantf(restore, "channel %s history exceeds %d", name, cfg.MaxHistory)
		}
		for i, p := range cs.Points {
			if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
				return fault.Invariantf(restore, "channel %s has non-finite value", name)
			}
			if i > 0 && !p.Timestamp.After(cs.Points[i-1].Timestamp) {
				return fault.Invariantf(restore, "channel %s history out of order", name)
			}
		}
	}
	return nil
}
