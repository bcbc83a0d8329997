// BLE Debug Scanner - scans for all BLE devices to help identify an SBrick
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"tinygo.org/x/bluetooth"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
)

const scanDuration = 60 * time.Second

var (
	found   = color.New(color.FgGreen, color.Bold).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
)

func main() {
	fmt.Println("BLE Debug Scanner for SBrick")
	fmt.Println("============================")
	fmt.Println()
	fmt.Println("IMPORTANT: Disconnect the SBrick from the phone app first!")
	fmt.Println("  An SBrick only accepts one controller at a time.")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop scanning...")
	fmt.Println()

	remoteControl, err := bluetooth.ParseUUID(protocol.RemoteControlServiceUUID)
	if err != nil {
		fmt.Printf("%s %v\n", failure("ERROR:"), err)
		os.Exit(1)
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		fmt.Printf("%s Failed to enable Bluetooth adapter: %v\n", failure("ERROR:"), err)
		fmt.Println()
		fmt.Println("Try: System Settings > Privacy & Security > Bluetooth")
		fmt.Println("     Add Terminal (or your terminal app) to the allowed list")
		os.Exit(1)
	}

	fmt.Printf("Bluetooth adapter enabled. Scanning for %s...\n", scanDuration)
	fmt.Println()
	fmt.Printf("%-40s %-25s %-6s %s\n", "ADDRESS/UUID", "NAME", "RSSI", "NOTES")
	fmt.Println(strings.Repeat("-", 90))

	seen := make(map[string]bool)
	detected := false

	stop := func(reason string) {
		fmt.Println()
		if reason != "" {
			fmt.Println(reason)
		}
		printSummary(detected)
		adapter.StopScan()
		os.Exit(0)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		stop("")
	}()

	go func() {
		time.Sleep(scanDuration)
		stop(fmt.Sprintf("Scan timeout (%s).", scanDuration))
	}()

	err = adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		if seen[addr] {
			return
		}
		seen[addr] = true

		name := result.LocalName()
		notes := ""

		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(protocol.DefaultNamePrefix)) {
			notes = found("*** SBRICK FOUND! ***")
			detected = true
		}
		if result.AdvertisementPayload.HasServiceUUID(remoteControl) {
			notes = found("*** SBRICK (by service UUID)! ***")
			detected = true
		}

		if name == "" {
			name = "(no name)"
		}

		// Only named devices or candidates, to reduce noise.
		if name != "(no name)" || notes != "" {
			fmt.Printf("%-40s %-25s %-6d %s\n", addr, truncate(name, 25), result.RSSI, notes)
		}
	})

	if err != nil {
		fmt.Printf("%s Scan failed: %v\n", failure("ERROR:"), err)
		os.Exit(1)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func printSummary(detected bool) {
	fmt.Println()
	if detected {
		fmt.Println(found("SUCCESS: SBrick was detected!"))
		fmt.Println()
		fmt.Println("Now run: ./sbrick info")
	} else {
		fmt.Println(warning("SBrick was NOT detected."))
		fmt.Println()
		fmt.Println("Troubleshooting:")
		fmt.Println("  1. Check the battery box is switched on")
		fmt.Println("  2. Make sure no phone or tablet is connected to it")
		fmt.Println("  3. A renamed SBrick is still found by its service UUID")
		fmt.Println("  4. Try moving closer")
	}
}
