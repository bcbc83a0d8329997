package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library"
)

var (
	driveCCW      bool
	driveMode     string
	driveDuration time.Duration
)

var driveCmd = &cobra.Command{
	Use:   "drive <channel> <value>",
	Short: "Drive one channel",
	Long: `Drive one channel, hold it for --duration, then stop and disconnect.

Channels are 0-3 or top-left, bottom-left, top-right, bottom-right.

The value depends on --mode:
  raw     power 0-255 (default)
  drive   motor speed 0-100%, mapped onto the range where motors turn
  lights  brightness 0-100%
  servo   angle 0-90 degrees, snapped to the nearest servo position

Examples:
  sbrick drive 0 200
  sbrick drive top-right 50 --mode drive --ccw --duration 5s
  sbrick drive 3 45 --mode servo --duration 0`,
	Args: cobra.ExactArgs(2),
	RunE: runDrive,
}

func init() {
	rootCmd.AddCommand(driveCmd)
	driveCmd.Flags().BoolVar(&driveCCW, "ccw", false, "Turn counter-clockwise")
	driveCmd.Flags().StringVar(&driveMode, "mode", "raw", "Value mode (raw, drive, lights, servo)")
	driveCmd.Flags().DurationVar(&driveDuration, "duration", 2*time.Second, "How long to hold before stopping (0 = until Ctrl-C)")
}

func runDrive(cmd *cobra.Command, args []string) error {
	ch, err := sbrick.ParseChannel(args[0])
	if err != nil {
		return err
	}
	value, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: value %q", sbrick.ErrWrongInput, args[1])
	}

	dir := sbrick.Clockwise
	if driveCCW {
		dir = sbrick.CounterClockwise
	}

	ctx, cancel := interruptContext()
	defer cancel()

	brick, err := connectBrick(ctx)
	if err != nil {
		return err
	}
	defer brick.Close()

	switch driveMode {
	case "raw":
		err = brick.Drive(ctx, sbrick.DriveCommand{Channel: ch, Direction: dir, Power: value})
	case "drive":
		err = brick.SetDrive(ctx, ch, value, dir)
	case "lights":
		err = brick.SetLights(ctx, ch, value, dir)
	case "servo":
		err = brick.SetServo(ctx, ch, value, dir)
	default:
		return fmt.Errorf("%w: mode %q", sbrick.ErrWrongInput, driveMode)
	}
	if err != nil {
		return fmt.Errorf("failed to drive %s: %w", ch, err)
	}

	for _, c := range brick.Channels() {
		if c.ID == ch {
			fmt.Printf("%s: power %d %s\n", ch, c.Power, c.Direction)
		}
	}

	holdFor(ctx, driveDuration)
	fmt.Println("Stopping")
	return nil
}
