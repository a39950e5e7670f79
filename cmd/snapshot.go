package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/fueltrack/core/snapshot"
)

var snapshotOutput string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect persisted vehicle state",
}

var snapshotLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List persisted snapshots",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotLs,
}

func init() {
	snapshotLsCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "table", "output format: table or yaml")
	snapshotCmd.AddCommand(snapshotLsCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// snapshotSummary is one vehicle as shown by snapshot ls.
type snapshotSummary struct {
	VehicleID   string    `yaml:"vehicle_id"`
	FleetID     string    `yaml:"fleet_id,omitempty"`
	TakenAt     time.Time `yaml:"taken_at"`
	Components  []string  `yaml:"components"`
	Level       *float64  `yaml:"level,omitempty"`
	Uncertainty *float64  `yaml:"uncertainty,omitempty"`
	Faulted     bool      `yaml:"sensor_fault"`
	Efficiency  *float64  `yaml:"efficiency,omitempty"`
	Errors      []string  `yaml:"errors,omitempty"`
}

func runSnapshotLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}
	store, err := snapshot.NewStore(cfg.Snapshot.Store)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Snapshot.Timeout)
	defer cancel()
	recs, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}
	return writeSnapshots(cmd.OutOrStdout(), summarize(recs), snapshotOutput)
}

func summarize(recs []snapshot.Record) []snapshotSummary {
	groups := map[string][]snapshot.Record{}
	for _, r := range recs {
		groups[r.VehicleID] = append(groups[r.VehicleID], r)
	}
	out := make([]snapshotSummary, 0, len(groups))
	for id, group := range groups {
		s := snapshotSummary{VehicleID: id}
		for _, r := range group {
			s.Components = append(s.Components, r.Component)
			if r.TakenAt.After(s.TakenAt) {
				s.TakenAt = r.TakenAt
			}
		}
		sort.Strings(s.Components)
		bundles, errs := snapshot.Decode(group)
		for _, err := range errs {
			s.Errors = append(s.Errors, err.Error())
		}
		if b := bundles[id]; b != nil {
			if b.Meta != nil {
				s.FleetID = b.Meta.FleetID
			}
			if b.Estimator != nil && b.Estimator.Initialized {
				lvl, unc := b.Estimator.Level, b.Estimator.Uncertainty
				s.Level, s.Uncertainty = &lvl, &unc
				s.Faulted = b.Estimator.FaultRaised
			}
			if b.Efficiency != nil {
				s.Efficiency = b.Efficiency.Efficiency()
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

func writeSnapshots(w io.Writer, list []snapshotSummary, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(list); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VEHICLE\tFLEET\tTAKEN AT\tLEVEL\tFAULT\tCOMPONENTS")
		for _, s := range list {
			level := "-"
			if s.Level != nil {
				level = fmt.Sprintf("%.1f", *s.Level)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\n",
				s.VehicleID, s.FleetID, s.TakenAt.Format(time.RFC3339), level, s.Faulted, len(s.Components))
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown output format %q", format)
}
