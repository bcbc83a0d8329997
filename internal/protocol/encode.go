package protocol

import (
	"encoding/binary"
	"fmt"
)

// ChannelSetting is the power and direction of one channel as sent to the device.
type ChannelSetting struct {
	Power     uint8
	Direction byte
}

func validChannel(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	return nil
}

// EncodeDrive builds a drive command.
// Format: [0x01] [channel hex id] [direction] [power 0-255]
func EncodeDrive(channel int, direction byte, power uint8) ([]byte, error) {
	if err := validChannel(channel); err != nil {
		return nil, err
	}
	if direction != DirClockwise && direction != DirCounterClockwise {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidDirection, direction)
	}
	return []byte{CmdDrive, ChannelHexIDs[channel], direction, power}, nil
}

// QuickDriveByte packs one channel into a quick-drive byte: the power
// rescaled to 0-127 in the upper seven bits and the direction in bit 0.
func QuickDriveByte(s ChannelSetting) byte {
	qd := int(s.Power) * MaxQuickDrivePower / MaxPower
	return byte(qd<<1) | (s.Direction & 0x01)
}

// EncodeQuickDrive builds the 4-byte quick-drive message, one byte per channel.
func EncodeQuickDrive(settings [NumChannels]ChannelSetting) []byte {
	msg := make([]byte, NumChannels)
	for i, s := range settings {
		msg[i] = QuickDriveByte(s)
	}
	return msg
}

// DecodeQuickDrive unpacks a quick-drive message. Powers are rescaled back to
// 0-255, rounding up so that re-encoding yields the same bytes.
func DecodeQuickDrive(data []byte) ([NumChannels]ChannelSetting, error) {
	var settings [NumChannels]ChannelSetting
	if len(data) != NumChannels {
		return settings, fmt.Errorf("%w: expected %d, got %d", ErrInvalidLength, NumChannels, len(data))
	}
	for i, b := range data {
		qd := int(b >> 1)
		settings[i] = ChannelSetting{
			Power:     uint8((qd*MaxPower + MaxQuickDrivePower - 1) / MaxQuickDrivePower),
			Direction: b & 0x01,
		}
	}
	return settings, nil
}

// EncodeStop builds a break command for any subset of channels.
// Format: [0x00] [channel hex id...]
func EncodeStop(channels ...int) ([]byte, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	msg := make([]byte, 0, len(channels)+1)
	msg = append(msg, CmdBreak)
	for _, ch := range channels {
		if err := validChannel(ch); err != nil {
			return nil, err
		}
		msg = append(msg, ChannelHexIDs[ch])
	}
	return msg, nil
}

// EncodeADCQuery builds an ADC query for one or more ADC channels.
// The result is read back from the remote control characteristic.
func EncodeADCQuery(adcChannels ...byte) []byte {
	msg := make([]byte, 0, len(adcChannels)+1)
	msg = append(msg, CmdADC)
	return append(msg, adcChannels...)
}

// DecodeADC reads n little-endian signed 16-bit values from an ADC response.
func DecodeADC(data []byte, n int) ([]int16, error) {
	if len(data) < n*2 {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrResponseTooShort, n*2, len(data))
	}
	values := make([]int16, n)
	for i := range values {
		values[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return values, nil
}

// VoltsFromRaw converts a raw supply voltage ADC reading to volts.
func VoltsFromRaw(raw int16) float64 {
	return float64(raw) * voltScale / voltDivisor
}

// CelsiusFromRaw converts a raw temperature ADC reading to degrees Celsius.
func CelsiusFromRaw(raw int16) float64 {
	return float64(raw)/tempDivisor - tempOffsetC
}

// CelsiusToFahrenheit converts a temperature to degrees Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// SensorADCChannels returns the two ADC channels wired to a port's sensor pins.
func SensorADCChannels(port int) (byte, byte, error) {
	if err := validChannel(port); err != nil {
		return 0, 0, err
	}
	return byte(port * 2), byte(port*2 + 1), nil
}

// SensorSample splits a raw sensor ADC value into its left-aligned 12-bit
// sample and the same sample on the 0-255 scale used for classification.
func SensorSample(raw int16) (sample12 int, scaled int) {
	sample12 = int(uint16(raw) >> 4)
	return sample12, sample12 >> 4
}
