// Package protocol implements the SBrick BLE remote control protocol
// (firmware 4.17) command encoding and response decoding.
package protocol

import (
	"errors"
	"fmt"
)

// SBrick BLE Service and Characteristic UUIDs
const (
	RemoteControlServiceUUID = "4dc591b0-857c-41de-b5f1-15abda665b0c"
	RemoteControlCharUUID    = "02b8cbcc-0e25-4bda-8790-a15f53e6010f" // Write + read back
	QuickDriveCharUUID       = "489a6ae0-c1ab-4c9c-bdb2-11d373c1b7fb" // Write
)

// Standard GATT Device Information service (0x180A) and its string characteristics.
const (
	DeviceInformationServiceUUID = "0000180a-0000-1000-8000-00805f9b34fb"
	ModelNumberCharUUID          = "00002a24-0000-1000-8000-00805f9b34fb"
	FirmwareRevisionCharUUID     = "00002a26-0000-1000-8000-00805f9b34fb"
	HardwareRevisionCharUUID     = "00002a27-0000-1000-8000-00805f9b34fb"
	SoftwareRevisionCharUUID     = "00002a28-0000-1000-8000-00805f9b34fb"
	ManufacturerNameCharUUID     = "00002a29-0000-1000-8000-00805f9b34fb"
)

// FirmwareCompatibility is the lowest firmware revision this protocol works with.
const FirmwareCompatibility = 4.17

// DefaultNamePrefix is the advertised name of an unconfigured SBrick.
const DefaultNamePrefix = "SBrick"

// Command codes for writing to the remote control characteristic
const (
	CmdBreak byte = 0x00 // Stop
	CmdDrive byte = 0x01 // Drive
	CmdADC   byte = 0x0F // Query ADC

	// CmdGetChannelStatus byte = 0x22 // not used

	ADCVolt byte = 0x08 // ADC channel: supply voltage
	ADCTemp byte = 0x09 // ADC channel: internal temperature
)

// Directions
const (
	DirClockwise        byte = 0x00
	DirCounterClockwise byte = 0x01
)

// Value limits
const (
	MinPower           = 0
	MaxPower           = 255
	MaxQuickDrivePower = 127
	MaxVolt            = 9.0 // Full battery
)

// NumChannels is the number of output channels on the device.
const NumChannels = 4

// ChannelHexIDs maps channel index to the id sent on the wire.
var ChannelHexIDs = [NumChannels]byte{
	0x00, // Top-Left
	0x01, // Bottom-Left
	0x02, // Top-Right
	0x03, // Bottom-Right
}

// Calibration constants for ADC conversions
const (
	voltScale   = 0.83875
	voltDivisor = 2047.0
	tempDivisor = 118.85795
	tempOffsetC = 160.0
)

// Errors
var (
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrNoChannels       = errors.New("no channels given")
	ErrResponseTooShort = errors.New("response too short")
	ErrInvalidLength    = errors.New("invalid message length")
)

// ErrorCode is an error code returned by the device in place of a response.
type ErrorCode byte

// Device error codes
const (
	ErrorLength  ErrorCode = 0x80 // Invalid command length
	ErrorParam   ErrorCode = 0x81 // Invalid parameter
	ErrorCommand ErrorCode = 0x82 // No such command
	ErrorNoAuth  ErrorCode = 0x83 // No authentication needed
	ErrorAuth    ErrorCode = 0x84 // Authentication error
	ErrorDoAuth  ErrorCode = 0x85 // Authentication needed
	ErrorAuthor  ErrorCode = 0x86 // Authorization error
	ErrorThermal ErrorCode = 0x87 // Thermal protection is active
	ErrorState   ErrorCode = 0x88 // The command does not make sense in the current state
)

// String returns a human-readable description of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorLength:
		return "invalid command length"
	case ErrorParam:
		return "invalid parameter"
	case ErrorCommand:
		return "no such command"
	case ErrorNoAuth:
		return "no authentication needed"
	case ErrorAuth:
		return "authentication error"
	case ErrorDoAuth:
		return "authentication needed"
	case ErrorAuthor:
		return "authorization error"
	case ErrorThermal:
		return "thermal protection is active"
	case ErrorState:
		return "command not valid in current state"
	default:
		return fmt.Sprintf("unknown_0x%02X", byte(c))
	}
}

// ParseErrorResponse reports whether a read response is a single device
// error code rather than data.
func ParseErrorResponse(data []byte) (ErrorCode, bool) {
	if len(data) != 1 {
		return 0, false
	}
	code := ErrorCode(data[0])
	if code < ErrorLength || code > ErrorState {
		return 0, false
	}
	return code, true
}

// CommandName returns a short name for the command in an encoded message,
// used as a label in logs and metrics.
func CommandName(msg []byte) string {
	if len(msg) == 0 {
		return "empty"
	}
	switch msg[0] {
	case CmdBreak:
		return "stop"
	case CmdDrive:
		return "drive"
	case CmdADC:
		return "adc"
	default:
		return fmt.Sprintf("unknown_0x%02X", msg[0])
	}
}
