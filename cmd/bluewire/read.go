package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <uuid>",
	Short: "Read a characteristic value",
	Long: `Connects to the device, reads the characteristic once and prints it.

Examples:
  # Read Battery Level
  bluewire read AA:BB:CC:DD:EE:FF 00002a19-0000-1000-8000-00805f9b34fb --hex`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var readHex bool

func init() {
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Output as hex string; raw bytes by default")
}

func runRead(cmd *cobra.Command, args []string) error {
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

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()
	value, err := char.Read(readCtx)
	if err != nil {
		return err
	}

	if readHex {
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(value))
		return nil
	}
	_, err = cmd.OutOrStdout().Write(value)
	return err
}
