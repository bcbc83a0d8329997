package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/ble"
)

var scanTimeout time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for SBrick devices",
	Long: `Scan for advertising Bluetooth devices whose name starts with the configured
prefix (--name). Use --name "" in the config file to list every device.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 5*time.Second, "How long to scan")
}

func runScan(cmd *cobra.Command, args []string) error {
	if cfg.Dummy {
		fmt.Println("Found 1 device(s):")
		fmt.Printf("  - %s (dummy)\n", ble.DummyDeviceName)
		return nil
	}

	fmt.Printf("Scanning for %s devices...\n", cfg.NamePrefix)

	client, err := ble.NewClient(logger)
	if err != nil {
		return fmt.Errorf("BLE not available: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
	defer cancel()

	results, err := client.Scan(ctx, cfg.NamePrefix, scanTimeout)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No SBrick devices found")
		fmt.Println()
		fmt.Println("Tips:")
		fmt.Println("  - Ensure your SBrick has power")
		fmt.Println("  - Make sure it's not connected to another controller")
		fmt.Println("  - Check that Bluetooth is enabled")
		return nil
	}

	fmt.Printf("Found %d device(s):\n", len(results))
	for _, r := range results {
		fmt.Printf("  - %s (Address: %s, RSSI: %d)\n", r.Name, r.Address, r.RSSI)
	}
	return nil
}
