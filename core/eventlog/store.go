// Package eventlog keeps an append-only history of detected events.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fueltrack/core/model"
)

// Query filters events. Zero fields match everything.
type Query struct {
	Start     time.Time
	End       time.Time
	VehicleID string
	FleetID   string
	Kind      model.EventKind
	// Limit caps the number of returned events. Zero means no cap.
	Limit int
}

// Matches reports whether ev satisfies q.
func (q Query) Matches(ev model.Event) bool {
	switch {
	case !q.Start.IsZero() && ev.Timestamp.Before(q.Start):
		return false
	case !q.End.IsZero() && ev.Timestamp.After(q.End):
		return false
	case q.VehicleID != "" && ev.VehicleID != q.VehicleID:
		return false
	case q.FleetID != "" && ev.FleetID != q.FleetID:
		return false
	case q.Kind != "" && ev.Kind != q.Kind:
		return false
	}
	return true
}

// Store persists events and supports querying.
type Store interface {
	Append(ctx context.Context, ev model.Event) error
	Query(ctx context.Context, q Query) ([]model.Event, error)
	Close() error
}

// Config selects and tunes the event log backend.
type Config struct {
	// Backend selects the store type: "jsonl", "sqlite" or "none".
	Backend string `json:"backend"`
	// Path is the file location of the log store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "events.jsonl"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite":
	case "none":
		return nil
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// Open creates the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "none":
		return NopStore{}, nil
	}
	return nil, fmt.Errorf("unknown backend %s", cfg.Backend)
}

// NopStore discards events.
type NopStore struct{}

func (NopStore) Append(context.Context, model.Event) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]model.Event, error) { return nil, nil }
func (NopStore) Close() error                                        { return nil }

func limit(evs []model.Event, n int) []model.Event {
	if n > 0 && len(evs) > n {
		return evs[:n]
	}
	return evs
}
