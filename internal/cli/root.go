// Package cli implements the command-line interface for sbrick.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/config"
)

const version = "0.1.0"

var (
	// Global flags
	configPath string
	logLevel   string
	verbose    bool
	useDummy   bool
	namePrefix string
	dbPath     string

	// Resolved in PersistentPreRunE.
	cfg    *config.Config
	logger *logrus.Logger
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "sbrick",
	Short: "SBrick remote control",
	Long: `SBrick remote control - A CLI tool for driving motors and lights on an
SBrick Bluetooth hub and reading its sensors and telemetry.

Connect to your SBrick over Bluetooth, drive its four channels, watch WeDo
sensors and record sessions for later inspection. Use --dummy to try every
command without hardware.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.sbrick/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&useDummy, "dummy", false, "Use the in-memory dummy device instead of Bluetooth")
	rootCmd.PersistentFlags().StringVar(&namePrefix, "name", "", "Device name prefix to connect to (default: SBrick)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file path (default: ~/.sbrick/sbrick.db)")
}

// loadConfig reads the config file and applies flag overrides. --log-level
// takes precedence over --verbose.
func loadConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	c, err := config.Load(path)
	if err != nil {
		return err
	}

	switch {
	case logLevel != "":
		c.LogLevel = logLevel
	case verbose:
		c.LogLevel = logrus.DebugLevel.String()
	}
	if useDummy {
		c.Dummy = true
	}
	if namePrefix != "" {
		c.NamePrefix = namePrefix
	}
	if dbPath != "" {
		c.DBPath = dbPath
	}

	if err := c.Validate(); err != nil {
		return err
	}

	cfg = c
	logger = c.NewLogger()
	return nil
}
