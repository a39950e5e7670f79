package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fueltrack/core/eventlog"
	"github.com/kilianp07/fueltrack/core/model"
	"github.com/kilianp07/fueltrack/pkg/export"
)

var eventsFlags struct {
	vehicle string
	fleet   string
	kind    string
	since   time.Duration
	from    string
	to      string
	limit   int
	output  string
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query the event log",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	f := eventsCmd.Flags()
	f.StringVar(&eventsFlags.vehicle, "vehicle", "", "only events of this vehicle")
	f.StringVar(&eventsFlags.fleet, "fleet", "", "only events of this fleet")
	f.StringVar(&eventsFlags.kind, "kind", "", "refuel, theft, sensor_fault, maintenance or fleet_pattern")
	f.DurationVar(&eventsFlags.since, "since", 0, "only events newer than this duration")
	f.StringVar(&eventsFlags.from, "from", "", "RFC 3339 start time")
	f.StringVar(&eventsFlags.to, "to", "", "RFC 3339 end time")
	f.IntVar(&eventsFlags.limit, "limit", 100, "maximum number of events, 0 for all")
	f.StringVarP(&eventsFlags.output, "output", "o", "json", "output format: json or csv")
	rootCmd.AddCommand(eventsCmd)
}

func eventsQuery(now time.Time) (eventlog.Query, error) {
	q := eventlog.Query{
		VehicleID: eventsFlags.vehicle,
		FleetID:   eventsFlags.fleet,
		Kind:      model.EventKind(eventsFlags.kind),
		Limit:     eventsFlags.limit,
	}
	switch q.Kind {
	case "", model.EventRefuel, model.EventTheft, model.EventSensorFault, model.EventMaintenance, model.EventFleetPattern:
	default:
		return q, fmt.Errorf("unknown event kind %q", q.Kind)
	}
	if eventsFlags.since > 0 {
		q.Start = now.Add(-eventsFlags.since)
	}
	if eventsFlags.from != "" {
		t, err := time.Parse(time.RFC3339, eventsFlags.from)
		if err != nil {
			return q, fmt.Errorf("--from: %w", err)
		}
		q.Start = t
	}
	if eventsFlags.to != "" {
		t, err := time.Parse(time.RFC3339, eventsFlags.to)
		if err != nil {
			return q, fmt.Errorf("--to: %w", err)
		}
		q.End = t
	}
	return q, nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}
	q, err := eventsQuery(time.Now())
	if err != nil {
		return err
	}
	store, err := eventlog.Open(cfg.EventLog)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	evs, err := store.Query(ctx, q)
	if err != nil {
		return err
	}
	switch eventsFlags.output {
	case "csv":
		return export.WriteCSV(cmd.OutOrStdout(), evs)
	case "json", "":
		return export.WriteJSON(cmd.OutOrStdout(), evs)
	}
	return fmt.Errorf("unknown output format %q", eventsFlags.output)
}
