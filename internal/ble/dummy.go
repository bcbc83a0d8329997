package ble

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
	"github.com/SeamusWaldron/sbrick_ble_library/pkg/transport"
)

// DummyDeviceName is the name reported by a connected Dummy.
const DummyDeviceName = "SBrick (dummy)"

// Write is one recorded characteristic write.
type Write struct {
	UUID string
	Data []byte
	At   time.Time
}

// Responder produces the value returned by a read of uuid. lastWrite is the
// most recent write to the same characteristic.
type Responder func(uuid string, lastWrite []byte) []byte

// Dummy is an in-memory transport.Transport that answers like an SBrick.
// ADC queries are answered from per-channel raw values set with SetADC.
type Dummy struct {
	latency time.Duration

	mu         sync.Mutex
	connected  bool
	connectErr error
	info       map[string]string
	adc        map[byte]int16
	lastWrite  map[string][]byte
	writes     []Write
	responder  Responder

	inFlight    int32
	maxInFlight int32
}

var _ transport.Transport = (*Dummy)(nil)

// NewDummy returns a disconnected dummy reporting firmware 4.17.
func NewDummy() *Dummy {
	return &Dummy{
		info: map[string]string{
			protocol.ModelNumberCharUUID:      "SBrick",
			protocol.FirmwareRevisionCharUUID: "4.17",
			protocol.HardwareRevisionCharUUID: "4.0",
			protocol.SoftwareRevisionCharUUID: "4.17",
			protocol.ManufacturerNameCharUUID: "Vengit Ltd.",
		},
		adc:       make(map[byte]int16),
		lastWrite: make(map[string][]byte),
	}
}

// SetLatency delays every read and write by d.
func (d *Dummy) SetLatency(latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = latency
}

// SetFirmware changes the reported firmware revision.
func (d *Dummy) SetFirmware(version string) {
	d.SetDeviceInfo(protocol.FirmwareRevisionCharUUID, version)
}

// SetDeviceInfo sets a device information string.
func (d *Dummy) SetDeviceInfo(uuid, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info[strings.ToLower(uuid)] = value
}

// SetADC sets the raw value returned for an ADC channel.
func (d *Dummy) SetADC(channel byte, raw int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adc[channel] = raw
}

// SetSensorValue sets both ADC channels of a sensor port so that the
// port reads back ch0 and value on the 8-bit scale.
func (d *Dummy) SetSensorValue(port int, ch0, value uint8) {
	a, b, err := protocol.SensorADCChannels(port)
	if err != nil {
		return
	}
	d.SetADC(a, int16(uint16(ch0)<<8))
	d.SetADC(b, int16(uint16(value)<<8))
}

// SetResponder overrides read responses. A nil return falls back to the
// built-in behaviour.
func (d *Dummy) SetResponder(r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responder = r
}

// SetConnectError makes the next Connect calls fail with err.
func (d *Dummy) SetConnectError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// SimulateLinkLoss drops the link without a Disconnect call.
func (d *Dummy) SimulateLinkLoss() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

// Writes returns a copy of every write recorded so far.
func (d *Dummy) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Write, len(d.writes))
	copy(out, d.writes)
	return out
}

// WritesTo returns the payloads written to uuid, in order.
func (d *Dummy) WritesTo(uuid string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][]byte
	for _, w := range d.writes {
		if w.UUID == strings.ToLower(uuid) {
			out = append(out, w.Data)
		}
	}
	return out
}

// ResetWrites clears the write log.
func (d *Dummy) ResetWrites() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = nil
}

// MaxInFlight reports the highest number of concurrent reads and writes seen.
func (d *Dummy) MaxInFlight() int {
	return int(atomic.LoadInt32(&d.maxInFlight))
}

// Connect implements transport.Transport.
func (d *Dummy) Connect(ctx context.Context, opts transport.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return ErrAlreadyConnected
	}
	if d.connectErr != nil {
		return d.connectErr
	}
	if !matchesPrefix(DummyDeviceName, opts.NamePrefix) {
		return ErrDeviceNotFound
	}
	d.connected = true
	return nil
}

// Disconnect implements transport.Transport.
func (d *Dummy) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return transport.ErrDeviceNotConnected
	}
	d.connected = false
	return nil
}

// IsConnected implements transport.Transport.
func (d *Dummy) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// DeviceName implements transport.Transport.
func (d *Dummy) DeviceName() string {
	if !d.IsConnected() {
		return ""
	}
	return DummyDeviceName
}

func (d *Dummy) begin(ctx context.Context) error {
	n := atomic.AddInt32(&d.inFlight, 1)
	for {
		m := atomic.LoadInt32(&d.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&d.maxInFlight, m, n) {
			break
		}
	}

	d.mu.Lock()
	latency := d.latency
	connected := d.connected
	d.mu.Unlock()

	if !connected {
		return transport.ErrDeviceNotConnected
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *Dummy) end() {
	atomic.AddInt32(&d.inFlight, -1)
}

// WriteCharacteristic implements transport.Transport.
func (d *Dummy) WriteCharacteristic(ctx context.Context, uuid string, data []byte) error {
	defer d.end()
	if err := d.begin(ctx); err != nil {
		return err
	}

	uuid = strings.ToLower(uuid)
	buf := append([]byte(nil), data...)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastWrite[uuid] = buf
	d.writes = append(d.writes, Write{UUID: uuid, Data: buf, At: time.Now()})
	return nil
}

// ReadCharacteristic implements transport.Transport.
func (d *Dummy) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	defer d.end()
	if err := d.begin(ctx); err != nil {
		return nil, err
	}

	uuid = strings.ToLower(uuid)

	d.mu.Lock()
	defer d.mu.Unlock()

	last := d.lastWrite[uuid]
	if d.responder != nil {
		if resp := d.responder(uuid, last); resp != nil {
			return resp, nil
		}
	}

	if s, ok := d.info[uuid]; ok {
		return []byte(s), nil
	}

	if uuid == protocol.RemoteControlCharUUID && len(last) > 1 && last[0] == protocol.CmdADC {
		resp := make([]byte, 0, 2*(len(last)-1))
		for _, ch := range last[1:] {
			resp = binary.LittleEndian.AppendUint16(resp, uint16(d.adc[ch]))
		}
		return resp, nil
	}

	return []byte{}, nil
}
