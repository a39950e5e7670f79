package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kilianp07/fueltrack/core/factory"
	"github.com/kilianp07/fueltrack/core/logger"
	"github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/vehiclestate"
)

// Config controls when and how snapshots are written.
type Config struct {
	Store factory.ModuleConfig `json:"store"`
	// Interval is the periodic flush cadence.
	Interval time.Duration `json:"interval"`
	// EveryUpdates triggers an early flush once a vehicle accumulated that
	// many updates. Zero disables the trigger.
	EveryUpdates int `json:"every_updates"`
	// Timeout bounds one flush cycle. Unwritten vehicles stay dirty.
	Timeout time.Duration `json:"timeout"`
	// MinFlushGap throttles early flushes.
	MinFlushGap time.Duration `json:"min_flush_gap"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.EveryUpdates == 0 {
		c.EveryUpdates = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MinFlushGap == 0 {
		c.MinFlushGap = 5 * time.Second
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("interval must be positive")
	case c.EveryUpdates < 0:
		return fmt.Errorf("every_updates must not be negative")
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive")
	case c.MinFlushGap < 0:
		return fmt.Errorf("min_flush_gap must not be negative")
	}
	return nil
}

// Persister writes dirty vehicles to a Store in the background. Failures are
// logged and the vehicles retried on the next cycle. Only the latest state is
// ever written, so no backlog builds up.
type Persister struct {
	store    Store
	vehicles *vehiclestate.Store
	cfg      Config
	log      logger.Logger
	rec      metrics.SnapshotRecorder
	limiter  *rate.Limiter
	kick     chan struct{}
	cycle    sync.Mutex
	now      func() time.Time
}

// NewPersister creates a Persister. rec may be nil.
func NewPersister(store Store, vehicles *vehiclestate.Store, cfg Config, log logger.Logger, rec metrics.SnapshotRecorder) *Persister {
	if rec == nil {
		rec = metrics.NopSink{}
	}
	limit := rate.Inf
	if cfg.MinFlushGap > 0 {
		limit = rate.Every(cfg.MinFlushGap)
	}
	return &Persister{
		store:    store,
		vehicles: vehicles,
		cfg:      cfg,
		log:      log,
		rec:      rec,
		limiter:  rate.NewLimiter(limit, 1),
		kick:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Store returns the underlying store.
func (p *Persister) Store() Store { return p.store }

// Touched is called after a vehicle update with its pending update count. It
// never blocks.
func (p *Persister) Touched(updates int) {
	if p.cfg.EveryUpdates <= 0 || updates < p.cfg.EveryUpdates {
		return
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run flushes on every interval and on early triggers until ctx is done. A
// final flush runs on shutdown.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if _, err := p.Flush(context.WithoutCancel(ctx)); err != nil {
				p.log.Errorf("final snapshot flush: %v", err)
			}
			return
		case <-ticker.C:
			p.flushAndLog(ctx)
		case <-p.kick:
			if p.limiter.Allow() {
				p.flushAndLog(ctx)
			}
		}
	}
}

func (p *Persister) flushAndLog(ctx context.Context) {
	if _, err := p.Flush(ctx); err != nil {
		p.log.Warnf("snapshot flush: %v", err)
	}
}

type pending struct {
	v    *vehiclestate.Vehicle
	recs []Record
}

// Flush writes every dirty vehicle once. It returns the number of vehicles
// saved. Errors never affect in-memory state beyond re-marking the vehicle
// dirty.
func (p *Persister) Flush(ctx context.Context) (int, error) {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	start := p.now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var (
		batch []pending
		errs  []error
	)
	p.vehicles.Each(func(v *vehiclestate.Vehicle) {
		v.Lock()
		defer v.Unlock()
		if !v.Dirty() {
			return
		}
		recs, err := Capture(v, start)
		if err != nil {
			errs = append(errs, err)
			return
		}
		v.MarkClean()
		batch = append(batch, pending{v: v, recs: recs})
	})

	saved := 0
	for _, item := range batch {
		if err := ctx.Err(); err != nil {
			p.requeue(item.v)
			errs = append(errs, fmt.Errorf("%s: %w", item.v.ID, err))
			continue
		}
		if err := p.store.Save(ctx, item.recs); err != nil {
			p.requeue(item.v)
			errs = append(errs, fmt.Errorf("%s: %w", item.v.ID, err))
			continue
		}
		saved++
	}

	_ = p.rec.RecordSnapshotCycle(metrics.SnapshotCycleEvent{
		Saved:    saved,
		Failed:   len(batch) - saved,
		Duration: p.now().Sub(start),
		Time:     start,
	})
	if saved > 0 {
		p.log.Debugw("snapshot flushed", map[string]any{"saved": saved, "failed": len(batch) - saved})
	}
	return saved, errors.Join(errs...)
}

func (p *Persister) requeue(v *vehiclestate.Vehicle) {
	v.Lock()
	v.MarkDirty()
	v.Unlock()
}

// Forget deletes the persisted state of a vehicle. It waits for a running
// flush so a stale capture cannot resurrect the records.
func (p *Persister) Forget(ctx context.Context, vehicleID string) error {
	p.cycle.Lock()
	defer p.cycle.Unlock()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	return p.store.Delete(ctx, vehicleID)
}
