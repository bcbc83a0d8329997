package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDrive(t *testing.T) {
	msg, err := EncodeDrive(2, DirCounterClockwise, 200)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x01, 200}, msg)

	_, err = EncodeDrive(4, DirClockwise, 10)
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = EncodeDrive(0, 0x05, 10)
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestQuickDriveByte(t *testing.T) {
	assert.Equal(t, byte(0x00), QuickDriveByte(ChannelSetting{Power: 0, Direction: DirClockwise}))
	assert.Equal(t, byte(0x01), QuickDriveByte(ChannelSetting{Power: 0, Direction: DirCounterClockwise}))
	assert.Equal(t, byte(0xFE), QuickDriveByte(ChannelSetting{Power: 255, Direction: DirClockwise}))
	assert.Equal(t, byte(0xFF), QuickDriveByte(ChannelSetting{Power: 255, Direction: DirCounterClockwise}))
	// 128*127/255 = 63
	assert.Equal(t, byte(63<<1), QuickDriveByte(ChannelSetting{Power: 128}))
}

func TestQuickDriveRoundTrip(t *testing.T) {
	for p := MinPower; p <= MaxPower; p++ {
		for _, dir := range []byte{DirClockwise, DirCounterClockwise} {
			in := [NumChannels]ChannelSetting{
				{Power: uint8(p), Direction: dir},
				{Power: uint8(MaxPower - p), Direction: dir ^ 1},
				{Power: 0, Direction: dir},
				{Power: MaxPower, Direction: dir},
			}
			encoded := EncodeQuickDrive(in)
			require.Len(t, encoded, NumChannels)

			out, err := DecodeQuickDrive(encoded)
			require.NoError(t, err)

			assert.Equal(t, encoded, EncodeQuickDrive(out), "re-encoding power %d", p)
			for i := range in {
				assert.Equal(t, in[i].Direction, out[i].Direction)
				assert.LessOrEqual(t, out[i].Power, in[i].Power)
				assert.InDelta(t, float64(in[i].Power), float64(out[i].Power), 2.01)
			}
		}
	}
}

func TestDecodeQuickDriveLength(t *testing.T) {
	_, err := DecodeQuickDrive([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestEncodeStop(t *testing.T) {
	msg, err := EncodeStop(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02}, msg)

	msg, err = EncodeStop(0, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x02, 0x03}, msg)

	_, err = EncodeStop()
	assert.ErrorIs(t, err, ErrNoChannels)

	_, err = EncodeStop(1, 7)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestADC(t *testing.T) {
	assert.Equal(t, []byte{0x0F, 0x09}, EncodeADCQuery(ADCTemp))
	assert.Equal(t, []byte{0x0F, 0x02, 0x03}, EncodeADCQuery(2, 3))

	values, err := DecodeADC([]byte{0x34, 0x12, 0xFF, 0xFF}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int16{0x1234, -1}, values)

	_, err = DecodeADC([]byte{0x01}, 1)
	assert.ErrorIs(t, err, ErrResponseTooShort)
}

func TestCalibration(t *testing.T) {
	assert.Equal(t, -160.0, CelsiusFromRaw(0))
	assert.InDelta(t, 0.83875, VoltsFromRaw(2047), 1e-9)
	assert.InDelta(t, 212.0, CelsiusToFahrenheit(100), 1e-9)
	assert.InDelta(t, 32.0, CelsiusToFahrenheit(0), 1e-9)
}

func TestSensorHelpers(t *testing.T) {
	a, b, err := SensorADCChannels(3)
	require.NoError(t, err)
	assert.Equal(t, byte(6), a)
	assert.Equal(t, byte(7), b)

	_, _, err = SensorADCChannels(-1)
	assert.ErrorIs(t, err, ErrInvalidChannel)

	sample, scaled := SensorSample(0x1000)
	assert.Equal(t, 0x100, sample)
	assert.Equal(t, 16, scaled)

	sample, scaled = SensorSample(-16) // 0xFFF0
	assert.Equal(t, 0xFFF, sample)
	assert.Equal(t, 255, scaled)
}

func TestParseErrorResponse(t *testing.T) {
	code, ok := ParseErrorResponse([]byte{0x87})
	assert.True(t, ok)
	assert.Equal(t, ErrorThermal, code)
	assert.Equal(t, "thermal protection is active", code.String())

	_, ok = ParseErrorResponse([]byte{0x10})
	assert.False(t, ok)
	_, ok = ParseErrorResponse([]byte{0x80, 0x00})
	assert.False(t, ok)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "stop", CommandName([]byte{CmdBreak, 0x01}))
	assert.Equal(t, "drive", CommandName([]byte{CmdDrive}))
	assert.Equal(t, "adc", CommandName([]byte{CmdADC, ADCTemp}))
	assert.Equal(t, "empty", CommandName(nil))
	assert.Equal(t, "unknown_0x22", CommandName([]byte{0x22}))
}
