package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library"
)

var stopCmd = &cobra.Command{
	Use:   "stop [channel...]",
	Short: "Stop channels",
	Long: `Stop the named channels, or all four when none are given.

Examples:
  sbrick stop
  sbrick stop 0 top-right`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	ids := make([]sbrick.ChannelID, 0, len(args))
	for _, arg := range args {
		ch, err := sbrick.ParseChannel(arg)
		if err != nil {
			return err
		}
		ids = append(ids, ch)
	}

	ctx := cmd.Context()
	brick, err := connectBrick(ctx)
	if err != nil {
		return err
	}
	defer brick.Close()

	if len(ids) == 0 {
		err = brick.StopAll(ctx)
	} else {
		err = brick.Stop(ctx, ids...)
	}
	if err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}

	fmt.Println("Stopped")
	return nil
}
