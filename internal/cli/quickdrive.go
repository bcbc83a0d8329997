package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library"
)

var quickDriveDuration time.Duration

var quickDriveCmd = &cobra.Command{
	Use:   "quickdrive <p0> <p1> <p2> <p3>",
	Short: "Drive all four channels with one write",
	Long: `Set all four channels in a single quick-drive write. Each value is a power
from -255 to 255; negative values turn counter-clockwise. Quick-drive has
7-bit resolution, so powers are rounded to even steps.

Example:
  sbrick quickdrive 200 0 -120 0 --duration 3s`,
	Args: cobra.ExactArgs(4),
	RunE: runQuickDrive,
}

func init() {
	rootCmd.AddCommand(quickDriveCmd)
	quickDriveCmd.Flags().DurationVar(&quickDriveDuration, "duration", 2*time.Second, "How long to hold before stopping (0 = until Ctrl-C)")
}

// parseSignedPowers converts signed powers to drive commands for channels 0-3.
func parseSignedPowers(args []string) ([]sbrick.DriveCommand, error) {
	cmds := make([]sbrick.DriveCommand, 0, len(args))
	for i, arg := range args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: power %q", sbrick.ErrWrongInput, arg)
		}
		dir := sbrick.Clockwise
		if v < 0 {
			dir = sbrick.CounterClockwise
			v = -v
		}
		cmds = append(cmds, sbrick.DriveCommand{Channel: sbrick.ChannelID(i), Direction: dir, Power: v})
	}
	return cmds, nil
}

func runQuickDrive(cmd *cobra.Command, args []string) error {
	cmds, err := parseSignedPowers(args)
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext()
	defer cancel()

	brick, err := connectBrick(ctx)
	if err != nil {
		return err
	}
	defer brick.Close()

	if err := brick.QuickDrive(ctx, cmds); err != nil {
		return fmt.Errorf("quick drive failed: %w", err)
	}
	for _, c := range brick.Channels() {
		fmt.Printf("%-13s power %3d %s\n", c.ID.String()+":", c.Power, c.Direction)
	}

	holdFor(ctx, quickDriveDuration)
	fmt.Println("Stopping")
	return nil
}
