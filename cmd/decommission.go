package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fueltrack/core/snapshot"
	"github.com/kilianp07/fueltrack/infra/mqtt"
	_ "github.com/kilianp07/fueltrack/infra/snapshot"
)

var decommissionLive bool

var decommissionCmd = &cobra.Command{
	Use:   "decommission <vehicle>",
	Short: "Remove a vehicle and its persisted state",
	Long: `Without --live the persisted snapshots are deleted directly from the
configured store; the service must not be running. With --live the command is
sent to the running service over MQTT, which evicts the vehicle from memory
as well.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecommission,
}

func init() {
	decommissionCmd.Flags().BoolVar(&decommissionLive, "live", false, "send the command to the running service")
	rootCmd.AddCommand(decommissionCmd)
}

func runDecommission(cmd *cobra.Command, args []string) error {
	id := args[0]
	cfg, err := loadConfigOrDefault()
	if err != nil {
		return err
	}

	if decommissionLive {
		mcfg := cfg.MQTT
		mcfg.ClientID = fmt.Sprintf("fueltrack-cli-%d", time.Now().UnixNano())
		cli, err := mqtt.NewPahoClient(mcfg)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		defer cli.Disconnect()
		payload, err := json.Marshal(map[string]string{"vehicle_id": id})
		if err != nil {
			return err
		}
		if err := cli.Publish(cfg.Telemetry.DecommissionTopic, "admin", payload); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "decommission of %s sent to %s\n", id, cfg.Telemetry.DecommissionTopic)
		return err
	}

	store, err := snapshot.NewStore(cfg.Snapshot.Store)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Snapshot.Timeout)
	defer cancel()
	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "snapshots of %s deleted\n", id)
	return err
}
