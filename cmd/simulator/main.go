package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/prudhvinik1/wearsync/internal/simulator"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	device    string
)

var rootCmd = &cobra.Command{
	Use:   "wearsync-sim",
	Short: "Wearable and companion-app simulator for wearsync",
	Long: `Replays what the wearable and its companion app send to a wearsync server:
one-second telemetry summaries uploaded in batches, and user event annotations.`,
	SilenceUsage: true,
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Upload generated telemetry batches",
	Long: `Generate one-second samples and upload them in batches of 30.

Examples:
  wearsync-sim send --device Device_Watchc01 --batches 4
  wearsync-sim send --fall-at "2024-01-01 10:00:42" --start "2024-01-01 10:00:00"`,
	RunE: runSend,
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <user> <event> [note]",
	Short: "Register an event annotation for the device",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runAnnotate,
}

var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Show the device's latest battery status",
	RunE:  runBattery,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "wearsync server base URL")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "Device_Watchc01", "device name")

	sendCmd.Flags().Int("batches", 1, "number of batches to upload")
	sendCmd.Flags().Int("size", simulator.BatchSize, "rows per batch")
	sendCmd.Flags().String("start", "", "timestamp of the first sample (default: now)")
	sendCmd.Flags().String("fall-at", "", "timestamp at which to inject a fall spike")
	sendCmd.Flags().Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	sendCmd.Flags().Duration("interval", 0, "pause between batches")

	annotateCmd.Flags().String("at", "", "event timestamp (default: now)")

	rootCmd.AddCommand(sendCmd, annotateCmd, batteryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	batches, _ := cmd.Flags().GetInt("batches")
	size, _ := cmd.Flags().GetInt("size")
	seed, _ := cmd.Flags().GetUint64("seed")
	interval, _ := cmd.Flags().GetDuration("interval")

	start, err := flagTime(cmd, "start", time.Now())
	if err != nil {
		return err
	}
	fallAt, err := flagTime(cmd, "fall-at", time.Time{})
	if err != nil {
		return err
	}

	client := simulator.NewClient(serverURL)
	gen := simulator.NewGenerator(device, start, seed)

	for i := 0; i < batches; i++ {
		ack, err := client.SendBatch(gen.Batch(size, fallAt))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] %s\n", i+1, batches, ack)

		if interval > 0 && i < batches-1 {
			time.Sleep(interval)
		}
	}
	return nil
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	at, err := flagTime(cmd, "at", time.Now())
	if err != nil {
		return err
	}

	req := models.AnnotationRequest{
		User:      args[0],
		Device:    device,
		Event:     args[1],
		Timestamp: at.Format("2006-01-02 15:04:05"),
	}
	if len(args) == 3 {
		req.Context = args[2]
	}

	pending, err := simulator.NewClient(serverURL).Annotate(req)
	if err != nil {
		return err
	}
	return printJSON(cmd, pending)
}

func runBattery(cmd *cobra.Command, args []string) error {
	status, err := simulator.NewClient(serverURL).Battery(device)
	if err != nil {
		return err
	}
	return printJSON(cmd, status)
}

// flagTime reads a "2006-01-02 15:04:05" flag in local time, truncated to
// whole seconds like the watch clock.
func flagTime(cmd *cobra.Command, name string, def time.Time) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		if def.IsZero() {
			return def, nil
		}
		return def.Truncate(time.Second), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
