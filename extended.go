package sbrick

import (
	"context"
	"math"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
)

// MinWorkingDrivePower is the power below which a drive motor does not turn.
const MinWorkingDrivePower = 98

// servoAngle pairs a servo angle with the power that produces it.
type servoAngle struct {
	angle int
	power int
}

// Servos only support 7 positions per 90 degrees, in 13 degree steps.
var servoAngles = []servoAngle{
	{0, 0},
	{13, 10},
	{26, 40},
	{39, 70},
	{52, 100},
	{65, 130},
	{78, 160},
	{90, 200},
}

// ServoAngleToPower returns the power for the servo position nearest to
// angle. Angles outside 0-90 map to the nearest end.
func ServoAngleToPower(angle int) int {
	idx := int(math.Round(float64(angle) / 13))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(servoAngles) {
		idx = len(servoAngles) - 1
	}
	return servoAngles[idx].power
}

// ServoPowerToAngle returns the angle for an exact servo power, or 0.
func ServoPowerToAngle(power int) int {
	for _, sa := range servoAngles {
		if sa.power == power {
			return sa.angle
		}
	}
	return 0
}

// DrivePercentageToPower maps 0-100% onto the power range in which a drive
// motor actually turns. 0% stays 0.
func DrivePercentageToPower(percent int) int {
	if percent == 0 {
		return 0
	}
	span := float64(protocol.MaxPower - MinWorkingDrivePower)
	return int(math.Round(span*float64(percent)/100 + MinWorkingDrivePower))
}

// DrivePowerToPercentage is the inverse of DrivePercentageToPower.
func DrivePowerToPercentage(power int) int {
	if power == 0 {
		return 0
	}
	span := float64(protocol.MaxPower - MinWorkingDrivePower)
	return int(math.Round(100 * float64(power-MinWorkingDrivePower) / span))
}

// LightPercentageToPower maps 0-100% brightness linearly onto 0-255.
func LightPercentageToPower(percent int) int {
	return int(math.Round(float64(protocol.MaxPower) * float64(percent) / 100))
}

// SetLights drives a light channel at a brightness percentage.
func (s *SBrick) SetLights(ctx context.Context, ch ChannelID, percent int, dir Direction) error {
	return s.Drive(ctx, DriveCommand{Channel: ch, Direction: dir, Power: LightPercentageToPower(percent)})
}

// SetDrive drives a motor at a speed percentage within its working range.
func (s *SBrick) SetDrive(ctx context.Context, ch ChannelID, percent int, dir Direction) error {
	return s.Drive(ctx, DriveCommand{Channel: ch, Direction: dir, Power: DrivePercentageToPower(percent)})
}

// SetServo moves a servo to the position nearest angle.
func (s *SBrick) SetServo(ctx context.Context, ch ChannelID, angle int, dir Direction) error {
	return s.Drive(ctx, DriveCommand{Channel: ch, Direction: dir, Power: ServoAngleToPower(angle)})
}
