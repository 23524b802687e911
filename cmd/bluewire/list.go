package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kmw/bluewire/internal/bledb"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list <device-address>",
	Short: "List GATT characteristics of a device",
	Long: `Connects to the device and lists its characteristics by UUID.

Examples:
  bluewire list AA:BB:CC:DD:EE:FF`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
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

	chars, err := dev.Characteristics(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if chars.Len() == 0 {
		fmt.Fprintln(out, "No characteristics")
		return nil
	}
	uuidColor := color.New(color.FgCyan)
	nameColor := color.New(color.FgGreen)
	for pair := chars.Oldest(); pair != nil; pair = pair.Next() {
		name := ""
		if known, ok := bledb.LookupCharacteristic(pair.Key); ok {
			name = "  " + nameColor.Sprint(known)
		}
		fmt.Fprintf(out, "%s  %s%s\n", uuidColor.Sprint(pair.Key), pair.Value, name)
	}
	return nil
}
