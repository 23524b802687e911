package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> <uuid>",
	Short: "Stream characteristic notifications",
	Long: `Connects to the device, enables notifications on the characteristic and
prints each pushed value until interrupted.

Examples:
  # Stream heart-rate measurements
  bluewire subscribe AA:BB:CC:DD:EE:FF 00002a37-0000-1000-8000-00805f9b34fb

  # Stop after one minute
  bluewire subscribe AA:BB:CC:DD:EE:FF 00002a37-0000-1000-8000-00805f9b34fb --duration 1m`,
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

var subscribeDuration time.Duration

func init() {
	subscribeCmd.Flags().DurationVar(&subscribeDuration, "duration", 0, "Stop after this long (default: until Ctrl+C)")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dev, err := s.connectDevice(ctx, args[0])
	if err != nil {
		return err
	}
	defer dev.Disconnect(ctx)

	char, err := findCharacteristic(ctx, dev, args[1])
	if err != nil {
		return err
	}

	n, err := char.Notify(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx)

	notifyCtx := ctx
	if subscribeDuration > 0 {
		var cancel context.CancelFunc
		notifyCtx, cancel = context.WithTimeout(ctx, subscribeDuration)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	tsColor := color.New(color.FgYellow)
	for {
		value, err := n.Next(notifyCtx)
		if err != nil {
			// Interrupt or elapsed duration ends the stream normally.
			if notifyCtx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "%s  %s\n",
			tsColor.Sprint(time.Now().Format(time.RFC3339)),
			hex.EncodeToString(value))
	}
}
