// Package transport defines the Bluetooth GATT contract the SBrick driver
// talks to. The BLE client and the offline dummy both satisfy it, and so can
// any other implementation passed to sbrick.New.
package transport

import (
	"context"
	"errors"
)

// Errors shared by transport implementations.
var (
	// ErrDeviceNotConnected is returned for I/O attempted while the link is
	// down.
	ErrDeviceNotConnected = errors.New("device not connected")

	// ErrDeviceNotFound is returned by Connect when no advertising device
	// matches the options.
	ErrDeviceNotFound = errors.New("device not found")
)

// Service describes a GATT service and the characteristics the driver uses.
// UUIDs are lower-case 128-bit strings.
type Service struct {
	UUID            string
	Name            string
	Characteristics map[string]string // UUID -> name
}

// Options configures device selection and service discovery.
type Options struct {
	// NamePrefix filters advertised devices by local name. Empty accepts
	// every device.
	NamePrefix string

	// Address connects to a specific device, skipping name matching.
	Address string

	// Services lists the services and characteristics to discover.
	Services []Service
}

// Transport is a connected-or-not GATT link to a single device.
type Transport interface {
	// Connect selects a device, connects and discovers the requested
	// services.
	Connect(ctx context.Context, opts Options) error

	// Disconnect tears down the link. Returns ErrDeviceNotConnected when
	// there is no link.
	Disconnect() error

	// ReadCharacteristic reads the current value of a characteristic.
	ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error)

	// WriteCharacteristic writes a value to a characteristic.
	WriteCharacteristic(ctx context.Context, uuid string, data []byte) error

	// IsConnected reports whether the link is up.
	IsConnected() bool

	// DeviceName returns the connected device name.
	DeviceName() string
}
