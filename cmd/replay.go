package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fueltrack/config"
	"github.com/kilianp07/fueltrack/core/pipeline"
	"github.com/kilianp07/fueltrack/core/theft"
	"github.com/kilianp07/fueltrack/infra/logger"
	"github.com/kilianp07/fueltrack/infra/telemetry"
)

var replayEventsOnly bool

var replayCmd = &cobra.Command{
	Use:   "replay <file.jsonl>",
	Short: "Feed recorded telemetry through an in-memory pipeline",
	Long: `Replay reads one telemetry document per line and prints the outbound
estimate records as JSON lines. Nothing is persisted.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayEventsOnly, "events-only", false, "print only records that carry events")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := replay(cmd.Context(), cfg, f, cmd.OutOrStdout(), replayEventsOnly)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "%d lines, %d records, %d events, %d rejected, %d invalid\n",
		stats.lines, stats.records, stats.events, stats.rejected, stats.invalid)
	return err
}

type replayStats struct {
	lines, records, events, rejected, invalid int
}

// replay processes every line of r in order on a single goroutine.
func replay(ctx context.Context, cfg *config.Config, r io.Reader, w io.Writer, eventsOnly bool) (replayStats, error) {
	var st replayStats
	if ctx == nil {
		ctx = context.Background()
	}
	proc, err := pipeline.New(pipeline.Deps{
		Profiles: cfg,
		Fleet:    theft.NewFleetAggregator(cfg.Fleet),
		Logger:   logger.New("replay"),
		Options:  pipeline.Options{Workers: 1, QueueSize: 1, BusBuffer: 1},
	})
	if err != nil {
		return st, err
	}

	enc := json.NewEncoder(w)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		st.lines++
		rec, err := telemetry.Decode(line, time.Now())
		if err != nil {
			st.invalid++
			continue
		}
		out, err := proc.Process(ctx, rec)
		if err != nil {
			st.rejected++
		}
		if out == nil {
			continue
		}
		st.records++
		st.events += len(out.Events)
		if eventsOnly && len(out.Events) == 0 {
			continue
		}
		if err := enc.Encode(out); err != nil {
			return st, err
		}
	}
	return st, sc.Err()
}
