package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <uuid> <hex-data>",
	Short: "Write a value to a characteristic",
	Long: `Connects to the device and writes the hex-encoded payload.

Examples:
  # Write two bytes
  bluewire write AA:BB:CC:DD:EE:FF 0000aa02-0451-4000-b000-000000000000 01ff`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

func runWrite(cmd *cobra.Command, args []string) error {
	payload, err := hex.DecodeString(args[2])
	if err != nil {
		return fmt.Errorf("invalid hex data: %w", err)
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cmd.SilenceUsage = true

	ctx := cmd.Context()
	dev, err := s.connectDevice(ctx, args[0])
	if err != nil {
		return err
	}
	defer dev.Disconnect(ctx)

	char, err := findCharacteristic(ctx, dev, args[1])
	if err != nil {
		return err
	}
	if err := char.Write(ctx, payload); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d byte(s)\n", len(payload))
	return nil
}
