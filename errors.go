package sbrick

import (
	"errors"
	"fmt"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/cmdqueue"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
	"github.com/SeamusWaldron/sbrick_ble_library/pkg/transport"
)

// Sentinel errors for the sbrick package.
var (
	// Input errors
	ErrWrongInput = errors.New("sbrick: wrong input")

	// Connection errors
	ErrNotConnected         = errors.New("sbrick: not connected")
	ErrAlreadyConnected     = errors.New("sbrick: already connected")
	ErrFirmwareIncompatible = errors.New("sbrick: firmware not compatible, please update your SBrick")

	// Transport errors, shared with the transport implementations.
	ErrDeviceNotConnected = transport.ErrDeviceNotConnected
	ErrDeviceNotFound     = transport.ErrDeviceNotFound

	// ErrQueueClosed is returned for operations issued after Close.
	ErrQueueClosed = cmdqueue.ErrClosed
)

// DeviceError is an error code returned by the device in place of data.
type DeviceError struct {
	Code byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("sbrick: device error 0x%02X: %s", e.Code, protocol.ErrorCode(e.Code))
}
