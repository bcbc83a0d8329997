package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive command shell",
	Long: `Connect once and drive the SBrick from an interactive prompt. Type 'help'
inside the shell for the command list. All channels stop on exit.`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// shellTimeout bounds each shell command.
const shellTimeout = 5 * time.Second

func channelNames(args []string) []string {
	names := make([]string, 0, len(sbrick.AllChannels))
	for _, ch := range sbrick.AllChannels {
		names = append(names, ch.String())
	}
	return names
}

// newShell builds the command set around a connected driver.
func newShell(brick *sbrick.SBrick) *ishell.Shell {
	shell := ishell.New()
	shell.Println("SBrick shell - type 'help' for commands")
	shell.ShowPrompt(true)

	// run gives each command its own deadline and reports errors.
	run := func(c *ishell.Context, fn func(ctx context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), shellTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.Err(err)
		}
	}

	shell.AddCmd(&ishell.Cmd{
		Name:      "drive",
		Help:      "drive <channel> <power> [ccw]",
		Completer: channelNames,
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("%w: usage: drive <channel> <power> [ccw]", sbrick.ErrWrongInput))
				return
			}
			run(c, func(ctx context.Context) error {
				ch, err := sbrick.ParseChannel(c.Args[0])
				if err != nil {
					return err
				}
				power, err := strconv.Atoi(c.Args[1])
				if err != nil {
					return fmt.Errorf("%w: power %q", sbrick.ErrWrongInput, c.Args[1])
				}
				dir := sbrick.Clockwise
				if len(c.Args) > 2 && strings.EqualFold(c.Args[2], "ccw") {
					dir = sbrick.CounterClockwise
				}
				return brick.Drive(ctx, sbrick.DriveCommand{Channel: ch, Direction: dir, Power: power})
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "quickdrive",
		Help: "quickdrive <p0> <p1> <p2> <p3> (negative = ccw)",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 4 {
				c.Err(fmt.Errorf("%w: usage: quickdrive <p0> <p1> <p2> <p3>", sbrick.ErrWrongInput))
				return
			}
			run(c, func(ctx context.Context) error {
				cmds, err := parseSignedPowers(c.Args)
				if err != nil {
					return err
				}
				return brick.QuickDrive(ctx, cmds)
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "stop",
		Help:      "stop [channel...]",
		Completer: channelNames,
		Func: func(c *ishell.Context) {
			run(c, func(ctx context.Context) error {
				if len(c.Args) == 0 {
					return brick.StopAll(ctx)
				}
				ids := make([]sbrick.ChannelID, 0, len(c.Args))
				for _, arg := range c.Args {
					ch, err := sbrick.ParseChannel(arg)
					if err != nil {
						return err
					}
					ids = append(ids, ch)
				}
				return brick.Stop(ctx, ids...)
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "channels",
		Help: "show channel state",
		Func: func(c *ishell.Context) {
			for _, ch := range brick.Channels() {
				c.Printf("%-13s power %3d %s\n", ch.ID.String()+":", ch.Power, ch.Direction)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "battery",
		Help: "read the supply voltage",
		Func: func(c *ishell.Context) {
			run(c, func(ctx context.Context) error {
				volts, err := brick.Battery(ctx)
				if err != nil {
					return err
				}
				percent, err := brick.BatteryPercent(ctx)
				if err != nil {
					return err
				}
				c.Printf("%.2fV (%d%%)\n", volts, percent)
				return nil
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "temp",
		Help: "temp [f] - read the internal temperature",
		Func: func(c *ishell.Context) {
			fahrenheit := len(c.Args) > 0 && strings.EqualFold(c.Args[0], "f")
			run(c, func(ctx context.Context) error {
				t, err := brick.Temperature(ctx, fahrenheit)
				if err != nil {
					return err
				}
				unit := "C"
				if fahrenheit {
					unit = "F"
				}
				c.Printf("%.1f°%s\n", t, unit)
				return nil
			})
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "sensor",
		Help: "sensor <port> - read a WeDo sensor once",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("%w: usage: sensor <port>", sbrick.ErrWrongInput))
				return
			}
			run(c, func(ctx context.Context) error {
				port, err := strconv.Atoi(c.Args[0])
				if err != nil {
					return fmt.Errorf("%w: port %q", sbrick.ErrWrongInput, c.Args[0])
				}
				r, err := brick.GetSensor(ctx, port, sbrick.SeriesWeDo)
				if err != nil {
					return err
				}
				c.Printf("port %d: %s value %d state %s\n", r.Port, r.Type, r.Value, r.State)
				return nil
			})
		},
	})

	watchCmd := &ishell.Cmd{
		Name: "watch",
		Help: "watch <port> - print sensor state changes",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("%w: usage: watch <port>", sbrick.ErrWrongInput))
				return
			}
			run(c, func(ctx context.Context) error {
				port, err := strconv.Atoi(c.Args[0])
				if err != nil {
					return fmt.Errorf("%w: port %q", sbrick.ErrWrongInput, c.Args[0])
				}
				return brick.StartSensor(ctx, port)
			})
		},
	}
	watchCmd.AddCmd(&ishell.Cmd{
		Name: "off",
		Help: "watch off <port> - stop watching a port",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("%w: usage: watch off <port>", sbrick.ErrWrongInput))
				return
			}
			port, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Err(fmt.Errorf("%w: port %q", sbrick.ErrWrongInput, c.Args[0]))
				return
			}
			if err := brick.StopSensor(port); err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(watchCmd)

	brick.OnSensorChange(func(r sbrick.SensorReading) {
		shell.Printf("sensor %d: %s %s\n", r.Port, r.Type, r.State)
	})
	brick.OnConnectionLost(func() {
		shell.Println(errorStyle.Render("Connection lost - exit and reconnect"))
	})

	return shell
}

func runShell(cmd *cobra.Command, args []string) error {
	brick, err := connectBrick(cmd.Context())
	if err != nil {
		return err
	}
	defer brick.Close()

	shell := newShell(brick)
	shell.Run()
	shell.Close()

	fmt.Println("Stopping all channels")
	return nil
}
