package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kilianp07/fueltrack/core/fault"
	"github.com/kilianp07/fueltrack/core/metrics"
	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/core/monitoring"
)

// Run consumes records until in is closed or ctx is done. Records are sharded
// by vehicle so each vehicle is updated by one worker, in arrival order.
// Queued records are drained before Run returns.
func (p *Processor) Run(ctx context.Context, in <-chan model.TelemetryRecord) {
	work := context.WithoutCancel(ctx)
	queues := make([]chan model.TelemetryRecord, p.opts.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		q := make(chan model.TelemetryRecord, p.opts.QueueSize)
		queues[i] = q
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range q {
				p.safeProcess(work, rec)
			}
		}()
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			select {
			case queues[p.shard(rec.VehicleID)] <- rec:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Processor) shard(vehicleID string) int {
	return int(xxhash.Sum64String(vehicleID) % uint64(p.opts.Workers))
}

// safeProcess isolates a panic to the record that caused it.
func (p *Processor) safeProcess(ctx context.Context, rec model.TelemetryRecord) {
	defer func() {
		if r := recover(); r != nil {
			err := fault.WithVehicle(fault.New(fault.Internal, opProcess, fmt.Errorf("panic: %v", r)), rec.VehicleID)
			p.log.Errorf("recovered: %v", err)
			monitoring.CaptureFault(err)
		}
	}()
	_, _ = p.Process(ctx, rec)
}

// Decommission forgets a vehicle in memory, in the fleet aggregator and in
// the snapshot store. Records that arrive afterwards start a fresh vehicle.
func (p *Processor) Decommission(ctx context.Context, vehicleID string) error {
	if v, ok := p.vehicles.Get(vehicleID); ok {
		v.Lock()
		p.vehicles.Evict(vehicleID)
		v.Unlock()
	}
	p.fleet.Remove(vehicleID)
	if f, ok := p.sink.(metrics.VehicleForgetter); ok {
		f.Forget(vehicleID)
	}
	if p.snap != nil {
		if err := p.snap.Forget(ctx, vehicleID); err != nil {
			return fmt.Errorf("forget snapshot of %s: %w", vehicleID, err)
		}
	}
	p.log.Infow("vehicle decommissioned", map[string]any{"vehicle_id": vehicleID})
	return nil
}
