package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library"
)

var (
	sensorWatch    bool
	sensorJSON     bool
	sensorDuration time.Duration
)

var sensorCmd = &cobra.Command{
	Use:   "sensor <port>",
	Short: "Read a WeDo sensor",
	Long: `Read the WeDo sensor attached to a port (0-3) once, or with --watch print
every value and state change until --duration elapses or Ctrl-C.

Tilt sensors report up, right, flat, down or left; motion sensors report
close, midrange or clear.`,
	Args: cobra.ExactArgs(1),
	RunE: runSensor,
}

func init() {
	rootCmd.AddCommand(sensorCmd)
	sensorCmd.Flags().BoolVarP(&sensorWatch, "watch", "w", false, "Poll and print changes")
	sensorCmd.Flags().BoolVar(&sensorJSON, "json", false, "Print readings as JSON lines")
	sensorCmd.Flags().DurationVar(&sensorDuration, "duration", 0, "How long to watch (0 = until Ctrl-C)")
}

func printReading(r sbrick.SensorReading) {
	if sensorJSON {
		data, err := json.Marshal(r)
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}
	fmt.Printf("%s port %d  type %-7s value %3d  state %s\n",
		r.Time.Format("15:04:05.000"), r.Port, r.Type, r.Value, activeStyle.Render(r.State))
}

func runSensor(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: port %q", sbrick.ErrWrongInput, args[0])
	}

	ctx, cancel := interruptContext()
	defer cancel()

	brick, err := connectBrick(ctx)
	if err != nil {
		return err
	}
	defer brick.Close()

	if !sensorWatch {
		reading, err := brick.GetSensor(ctx, port, sbrick.SeriesWeDo)
		if err != nil {
			return fmt.Errorf("failed to read sensor: %w", err)
		}
		printReading(reading)
		return nil
	}

	brick.OnSensorValueChange(printReading)
	brick.OnConnectionLost(func() {
		fmt.Println(errorStyle.Render("Connection lost"))
		cancel()
	})

	if err := brick.StartSensor(ctx, port); err != nil {
		return fmt.Errorf("failed to start sensor: %w", err)
	}
	holdFor(ctx, sensorDuration)
	return brick.StopSensor(port)
}
