package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/internal/eventbus"
)

// RegisterBusCollector exposes the deliveries the estimate bus dropped
// because a subscriber was too slow.
func RegisterBusCollector(reg prometheus.Registerer, bus *eventbus.TypedBus[model.EstimateRecord]) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "fueltrack_bus_dropped_total",
		Help: "Estimate records dropped by slow bus subscribers",
	}, func() float64 { return float64(bus.Dropped()) })
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			// A previous bus is still registered; replace it.
			reg.Unregister(are.ExistingCollector)
			return reg.Register(c)
		}
		return err
	}
	return nil
}
