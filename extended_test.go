package sbrick

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServoConversions(t *testing.T) {
	tests := []struct {
		angle int
		power int
	}{
		{0, 0},
		{6, 0},
		{7, 10},
		{13, 10},
		{45, 70},
		{90, 200},
		{200, 200},
		{-20, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.power, ServoAngleToPower(tt.angle), "angle %d", tt.angle)
	}

	assert.Equal(t, 65, ServoPowerToAngle(130))
	assert.Equal(t, 90, ServoPowerToAngle(200))
	assert.Equal(t, 0, ServoPowerToAngle(131))
}

func TestDrivePercentage(t *testing.T) {
	assert.Equal(t, 0, DrivePercentageToPower(0))
	assert.Equal(t, 255, DrivePercentageToPower(100))
	assert.Equal(t, 177, DrivePercentageToPower(50))
	assert.Equal(t, 100, DrivePercentageToPower(1))

	assert.Equal(t, 0, DrivePowerToPercentage(0))
	assert.Equal(t, 100, DrivePowerToPercentage(255))
	assert.Equal(t, 50, DrivePowerToPercentage(177))

	for p := 1; p <= 100; p++ {
		assert.Equal(t, p, DrivePowerToPercentage(DrivePercentageToPower(p)), "percent %d", p)
	}
}

func TestLightPercentage(t *testing.T) {
	assert.Equal(t, 0, LightPercentageToPower(0))
	assert.Equal(t, 128, LightPercentageToPower(50))
	assert.Equal(t, 255, LightPercentageToPower(100))
}

func TestExtendedSetters(t *testing.T) {
	ctx := context.Background()
	b, d, _ := newConnected(t)

	require.NoError(t, b.SetServo(ctx, Channel1, 52, CounterClockwise))
	require.NoError(t, b.SetDrive(ctx, Channel0, 100, Clockwise))
	require.NoError(t, b.SetLights(ctx, Channel3, 50, Clockwise))

	assert.Equal(t, [][]byte{
		{0x01, 0x01, 0x01, 100},
		{0x01, 0x00, 0x00, 255},
		{0x01, 0x03, 0x00, 128},
	}, remoteWrites(d))
}
