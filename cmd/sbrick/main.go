// SBrick remote control - CLI application for driving an SBrick hub and recording its telemetry.
package main

import (
	"github.com/SeamusWaldron/sbrick_ble_library/internal/cli"
)

func main() {
	cli.Execute()
}
