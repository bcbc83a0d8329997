// Package ble provides GATT transports for SBrick devices: a tinygo
// bluetooth client for real hardware and an in-memory dummy for offline use.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/SeamusWaldron/sbrick_ble_library/pkg/transport"
)

// Errors
var (
	ErrAlreadyConnected      = errors.New("ble: already connected to a device")
	ErrDeviceNotFound        = transport.ErrDeviceNotFound
	ErrServiceNotFound       = errors.New("ble: service not found")
	ErrCharacteristicUnknown = errors.New("ble: characteristic not discovered")
)

// DefaultScanTimeout bounds the device search performed by Connect.
const DefaultScanTimeout = 10 * time.Second

// readBufferSize fits the largest ADC response and device information strings.
const readBufferSize = 64

// ScanResult represents a discovered device.
type ScanResult struct {
	Name    string
	Address string
	RSSI    int16
	addr    bluetooth.Address
}

// Client is a transport.Transport backed by the host Bluetooth adapter.
type Client struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Entry

	mu         sync.RWMutex
	device     bluetooth.Device
	chars      map[string]bluetooth.DeviceCharacteristic
	connected  bool
	deviceName string
	address    string
}

var _ transport.Transport = (*Client)(nil)

// NewClient enables the default adapter and returns a client for it.
func NewClient(logger *logrus.Logger) (*Client, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		adapter: adapter,
		logger:  logger.WithField("component", "ble"),
		chars:   make(map[string]bluetooth.DeviceCharacteristic),
	}, nil
}

func matchesPrefix(name, prefix string) bool {
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(name, prefix)
}

// Scan lists advertising devices whose local name starts with namePrefix,
// strongest signal first. An empty prefix lists every device seen.
func (c *Client) Scan(ctx context.Context, namePrefix string, timeout time.Duration) ([]ScanResult, error) {
	if c.IsConnected() {
		return nil, ErrAlreadyConnected
	}

	// Written from the adapter's callback goroutine.
	seen := hashmap.New[string, ScanResult]()

	done := make(chan error, 1)

	go func() {
		done <- c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if !matchesPrefix(name, namePrefix) {
				return
			}
			addr := result.Address.String()
			seen.Insert(addr, ScanResult{
				Name:    name,
				Address: addr,
				RSSI:    result.RSSI,
				addr:    result.Address,
			})
		})
	}()

	select {
	case <-time.After(timeout):
	case <-ctx.Done():
	}

	c.adapter.StopScan()
	if err := <-done; err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	results := make([]ScanResult, 0, seen.Len())
	seen.Range(func(_ string, r ScanResult) bool {
		results = append(results, r)
		return true
	})
	sort.Slice(results, func(i, j int) bool { return results[i].RSSI > results[j].RSSI })
	return results, nil
}

// find scans until a device matching opts is seen.
func (c *Client) find(ctx context.Context, opts transport.Options) (ScanResult, error) {
	var target ScanResult
	found := make(chan struct{})
	var foundOnce sync.Once

	go func() {
		c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			addr := result.Address.String()
			if opts.Address != "" {
				if !strings.EqualFold(addr, opts.Address) {
					return
				}
			} else if !matchesPrefix(name, opts.NamePrefix) {
				return
			}
			foundOnce.Do(func() {
				target = ScanResult{Name: name, Address: addr, RSSI: result.RSSI, addr: result.Address}
				close(found)
			})
		})
	}()

	timeout := DefaultScanTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	select {
	case <-found:
		c.adapter.StopScan()
		return target, nil
	case <-time.After(timeout):
		c.adapter.StopScan()
		return ScanResult{}, ErrDeviceNotFound
	case <-ctx.Done():
		c.adapter.StopScan()
		return ScanResult{}, ctx.Err()
	}
}

// Connect finds a device, connects and discovers the services in opts.
func (c *Client) Connect(ctx context.Context, opts transport.Options) error {
	if c.IsConnected() {
		return ErrAlreadyConnected
	}
	if c.DeviceName() != "" {
		// Release a handle left behind by a lost link.
		c.Disconnect()
	}

	target, err := c.find(ctx, opts)
	if err != nil {
		return err
	}
	c.logger.WithField("device", target.Name).WithField("address", target.Address).Debug("device found")

	device, err := c.adapter.Connect(target.addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	chars, err := discover(device, opts.Services)
	if err != nil {
		device.Disconnect()
		return err
	}

	c.mu.Lock()
	c.device = device
	c.chars = chars
	c.connected = true
	c.deviceName = target.Name
	c.address = target.Address
	c.mu.Unlock()

	return nil
}

func discover(device bluetooth.Device, services []transport.Service) (map[string]bluetooth.DeviceCharacteristic, error) {
	chars := make(map[string]bluetooth.DeviceCharacteristic)

	for _, svc := range services {
		svcUUID, err := bluetooth.ParseUUID(svc.UUID)
		if err != nil {
			return nil, fmt.Errorf("invalid service uuid %q: %w", svc.UUID, err)
		}

		found, err := device.DiscoverServices([]bluetooth.UUID{svcUUID})
		if err != nil {
			return nil, fmt.Errorf("failed to discover services: %w", err)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, svc.Name)
		}

		want := make([]bluetooth.UUID, 0, len(svc.Characteristics))
		for charUUID := range svc.Characteristics {
			u, err := bluetooth.ParseUUID(charUUID)
			if err != nil {
				return nil, fmt.Errorf("invalid characteristic uuid %q: %w", charUUID, err)
			}
			want = append(want, u)
		}

		discovered, err := found[0].DiscoverCharacteristics(want)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics: %w", err)
		}
		for _, ch := range discovered {
			chars[strings.ToLower(ch.UUID().String())] = ch
		}
	}

	return chars, nil
}

// Disconnect disconnects from the current device.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A link marked down by linkFailed still holds the device handle.
	if !c.connected && c.deviceName == "" {
		return transport.ErrDeviceNotConnected
	}

	err := c.device.Disconnect()
	c.connected = false
	c.deviceName = ""
	c.address = ""
	c.chars = make(map[string]bluetooth.DeviceCharacteristic)

	return err
}

// IsConnected returns true if connected to a device.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// DeviceName returns the connected device name.
func (c *Client) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceName
}

// Address returns the connected device address.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

func (c *Client) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return bluetooth.DeviceCharacteristic{}, transport.ErrDeviceNotConnected
	}
	ch, ok := c.chars[strings.ToLower(uuid)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: %s", ErrCharacteristicUnknown, uuid)
	}
	return ch, nil
}

// linkFailed marks the link down after an I/O error so that the keepalive
// notices the loss.
func (c *Client) linkFailed(op string, err error) {
	c.logger.WithError(err).WithField("op", op).Warn("GATT operation failed, marking link down")
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// ReadCharacteristic reads a characteristic value.
func (c *Client) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, err := c.characteristic(uuid)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, readBufferSize)
	n, err := ch.Read(buf)
	if err != nil {
		c.linkFailed("read", err)
		return nil, fmt.Errorf("failed to read %s: %w", uuid, err)
	}
	return buf[:n], nil
}

// WriteCharacteristic writes a value. Only write-without-response is
// available on every backend.
func (c *Client) WriteCharacteristic(ctx context.Context, uuid string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.characteristic(uuid)
	if err != nil {
		return err
	}

	if _, err := ch.WriteWithoutResponse(data); err != nil {
		c.linkFailed("write", err)
		return fmt.Errorf("failed to write %s: %w", uuid, err)
	}
	return nil
}
