package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kmw/bluewire/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby BLE devices",
	Long: `Runs a discovery session on the adapter and lists the devices found.

Examples:
  # Scan with the default duration
  bluewire scan

  # Scan for 30 seconds, LE transport only
  bluewire scan --duration 30s

  # Only devices advertising the battery service
  bluewire scan --uuid 0000180f-0000-1000-8000-00805f9b34fb`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanUUIDs    []string
)

func init() {
	scanCmd.Flags().DurationVar(&scanDuration, "duration", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringArrayVar(&scanUUIDs, "uuid", nil, "Only report devices advertising this service UUID (repeatable)")
}

func runScan(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cmd.SilenceUsage = true

	duration := scanDuration
	if duration == 0 {
		duration = s.cfg.ScanDuration
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sc := scanner.New(s.conn, s.adapter, s.logger)
	fmt.Fprintf(cmd.OutOrStdout(), "Scanning on %s for %s...\n", s.adapter.Path(), duration)
	devices, err := sc.Scan(ctx, &scanner.Options{
		Duration:     duration,
		Transport:    "le",
		ServiceUUIDs: scanUUIDs,
	})
	if err != nil {
		return err
	}

	printDevices(cmd, devices)
	return nil
}

func printDevices(cmd *cobra.Command, devices map[string]scanner.DeviceInfo) {
	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices found")
		return
	}

	addrs := make([]string, 0, len(devices))
	for addr := range devices {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return devices[addrs[i]].RSSI > devices[addrs[j]].RSSI
	})

	addrColor := color.New(color.FgCyan)
	nameColor := color.New(color.FgGreen)
	fmt.Fprintf(out, "%-20s %6s  %s\n", "ADDRESS", "RSSI", "NAME")
	for _, addr := range addrs {
		d := devices[addr]
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(out, "%-20s %6d  %s\n",
			addrColor.Sprint(addr), d.RSSI, nameColor.Sprint(name))
	}
}
