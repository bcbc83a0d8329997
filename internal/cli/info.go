package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/sbrick_ble_library"
)

var (
	infoFahrenheit bool
	infoJSON       bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device information and telemetry",
	Long:  `Connect to the SBrick and print its device information, supply voltage and internal temperature.`,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoFahrenheit, "fahrenheit", false, "Report temperature in Fahrenheit")
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print as JSON")
}

type infoReport struct {
	Device string `json:"device"`
	sbrick.DeviceInfo
	BatteryVolts    float64 `json:"battery_volts"`
	BatteryPercent  int     `json:"battery_percent"`
	Temperature     float64 `json:"temperature"`
	TemperatureUnit string  `json:"temperature_unit"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	brick, err := connectBrick(ctx)
	if err != nil {
		return err
	}
	defer brick.Close()

	info, err := brick.DeviceInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to read device info: %w", err)
	}
	volts, err := brick.Battery(ctx)
	if err != nil {
		return fmt.Errorf("failed to read battery: %w", err)
	}
	percent, err := brick.BatteryPercent(ctx)
	if err != nil {
		return fmt.Errorf("failed to read battery: %w", err)
	}
	temp, err := brick.Temperature(ctx, infoFahrenheit)
	if err != nil {
		return fmt.Errorf("failed to read temperature: %w", err)
	}

	report := infoReport{
		Device:          brick.DeviceName(),
		DeviceInfo:      info,
		BatteryVolts:    volts,
		BatteryPercent:  percent,
		Temperature:     temp,
		TemperatureUnit: "C",
	}
	if infoFahrenheit {
		report.TemperatureUnit = "F"
	}

	if infoJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("SBrick Information"))
	printField("Device", report.Device)
	printField("Model", report.ModelNumber)
	printField("Firmware", report.FirmwareRevision)
	printField("Hardware", report.HardwareRevision)
	printField("Software", report.SoftwareRevision)
	printField("Manufacturer", report.ManufacturerName)
	printField("Battery", fmt.Sprintf("%.2fV (%d%%)", report.BatteryVolts, report.BatteryPercent))
	printField("Temperature", fmt.Sprintf("%.1f°%s", report.Temperature, report.TemperatureUnit))
	return nil
}
