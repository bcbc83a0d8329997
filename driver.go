package sbrick

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/cmdqueue"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
	"github.com/SeamusWaldron/sbrick_ble_library/pkg/transport"
)

// SBrick drives one SBrick hub over a transport.
//
// Every read and write goes through a single command queue, so at most one
// GATT operation is in flight at a time. Create one with New:
//
//	brick := sbrick.New(client)
//	if err := brick.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer brick.Close()
type SBrick struct {
	t       transport.Transport
	cfg     *config
	logger  *logrus.Entry
	queue   *cmdqueue.Queue
	metrics *metrics
	bus     Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    ConnState
	channels [protocol.NumChannels]Channel
	sensors  map[int]*sensorState
	kaCancel context.CancelFunc
	kaDone   chan struct{}

	// Callbacks
	cbMu                sync.RWMutex
	onPortChange        func(Channel)
	onSensorChange      func(SensorReading)
	onSensorValueChange func(SensorReading)
	onConnectionLost    func()
}

// New returns a disconnected driver using t for all device I/O.
func New(t transport.Transport, opts ...Option) *SBrick {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SBrick{
		t:       t,
		cfg:     cfg,
		logger:  cfg.logger.WithField("component", "sbrick"),
		queue:   cmdqueue.New(cfg.logger),
		metrics: newMetrics(cfg.registerer),
		ctx:     ctx,
		cancel:  cancel,
		sensors: make(map[int]*sensorState),
	}
	s.resetChannels()
	s.queue.SetHooks(s.metrics.queueStarted, s.metrics.queueDone)

	return s
}

func (s *SBrick) resetChannels() {
	for i := range s.channels {
		s.channels[i] = Channel{ID: ChannelID(i), Direction: Clockwise}
	}
}

// Events returns the event bus. Subscribers receive every event kind.
func (s *SBrick) Events() *Bus {
	return &s.bus
}

func (s *SBrick) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Device == "" {
		e.Device = s.t.DeviceName()
	}
	s.bus.Publish(e)

	s.cbMu.RLock()
	onPort, onSensor, onValue, onLost := s.onPortChange, s.onSensorChange, s.onSensorValueChange, s.onConnectionLost
	s.cbMu.RUnlock()

	switch e.Kind {
	case EventPortChange:
		if onPort != nil {
			onPort(e.Channel)
		}
	case EventSensorChange:
		if onSensor != nil {
			onSensor(e.Reading)
		}
	case EventSensorValueChange:
		if onValue != nil {
			onValue(e.Reading)
		}
	case EventConnectionLost:
		if onLost != nil {
			onLost()
		}
	}
}

// Event callbacks

// OnPortChange sets a callback that fires after a drive, quick-drive or stop
// write completes, once per affected channel.
func (s *SBrick) OnPortChange(cb func(Channel)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onPortChange = cb
}

// OnSensorChange sets a callback for sensor state changes.
func (s *SBrick) OnSensorChange(cb func(SensorReading)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onSensorChange = cb
}

// OnSensorValueChange sets a callback for raw sensor value changes.
func (s *SBrick) OnSensorValueChange(cb func(SensorReading)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onSensorValueChange = cb
}

// OnConnectionLost sets a callback for links found down by the keepalive.
func (s *SBrick) OnConnectionLost(cb func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onConnectionLost = cb
}

// Connection lifecycle

func (s *SBrick) services() []transport.Service {
	return []transport.Service{
		{
			UUID: protocol.DeviceInformationServiceUUID,
			Name: "device information",
			Characteristics: map[string]string{
				protocol.ModelNumberCharUUID:      "model number",
				protocol.FirmwareRevisionCharUUID: "firmware revision",
				protocol.HardwareRevisionCharUUID: "hardware revision",
				protocol.SoftwareRevisionCharUUID: "software revision",
				protocol.ManufacturerNameCharUUID: "manufacturer name",
			},
		},
		{
			UUID: protocol.RemoteControlServiceUUID,
			Name: "remote control",
			Characteristics: map[string]string{
				protocol.RemoteControlCharUUID: "remote control",
				protocol.QuickDriveCharUUID:    "quick drive",
			},
		},
	}
}

func (s *SBrick) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Connect connects to the first device matching the configured name prefix
// (or address) and verifies its firmware. Devices older than firmware 4.17
// are disconnected again and ErrFirmwareIncompatible is returned.
func (s *SBrick) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.connectTimeout)
	defer cancel()

	err := s.t.Connect(cctx, transport.Options{
		NamePrefix: s.cfg.namePrefix,
		Address:    s.cfg.address,
		Services:   s.services(),
	})
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("failed to connect: %w", err)
	}

	log := s.logger.WithField("device", s.t.DeviceName())

	fw, err := s.readInfo(cctx, protocol.FirmwareRevisionCharUUID)
	if err != nil {
		s.t.Disconnect()
		s.setState(StateDisconnected)
		return fmt.Errorf("failed to read firmware revision: %w", err)
	}
	if !firmwareCompatible(fw) {
		log.WithField("firmware", fw).Error("Firmware not compatible: please update your SBrick.")
		s.t.Disconnect()
		s.setState(StateDisconnected)
		return fmt.Errorf("%w (firmware %s)", ErrFirmwareIncompatible, fw)
	}

	s.mu.Lock()
	s.state = StateConnected
	s.resetChannels()
	s.mu.Unlock()

	s.startKeepalive()
	log.WithField("firmware", fw).Info("connected")
	s.publish(Event{Kind: EventConnected})

	return nil
}

// firmwareCompatible compares the leading number of a revision string, so
// "4.17" and "4.17b" pass and "4.2" compares as 4.2.
func firmwareCompatible(revision string) bool {
	revision = strings.TrimSpace(strings.TrimRight(revision, "\x00"))
	end := 0
	for end < len(revision) && (revision[end] == '.' || (revision[end] >= '0' && revision[end] <= '9')) {
		end++
	}
	v, err := strconv.ParseFloat(strings.TrimRight(revision[:end], "."), 64)
	if err != nil {
		return false
	}
	return v >= protocol.FirmwareCompatibility
}

// Disconnect stops all channels, stops the keepalive and closes the link.
func (s *SBrick) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.state = StateDisconnecting
	s.mu.Unlock()

	if err := s.stop(ctx, AllChannels); err != nil {
		s.logger.WithError(err).Warn("failed to stop channels before disconnect")
	}
	s.stopKeepalive()

	err := s.t.Disconnect()
	s.setState(StateDisconnected)
	s.publish(Event{Kind: EventDisconnected})

	if err != nil && !errors.Is(err, ErrDeviceNotConnected) {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

// Close disconnects if connected, ends sensor polling and releases the
// command queue. The driver cannot be used afterwards.
func (s *SBrick) Close() error {
	s.mu.Lock()
	for _, so := range s.sensors {
		so.keepAlive = false
	}
	connected := s.state == StateConnected
	s.mu.Unlock()

	var err error
	if connected {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.connectTimeout)
		err = s.Disconnect(ctx)
		cancel()
	}

	s.stopKeepalive()
	s.cancel()
	s.wg.Wait()
	s.queue.Close()
	return err
}

// State returns the connection state.
func (s *SBrick) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected returns true if connected and the link is up.
func (s *SBrick) IsConnected() bool {
	return s.State() == StateConnected && s.t.IsConnected()
}

// DeviceName returns the connected device name.
func (s *SBrick) DeviceName() string {
	return s.t.DeviceName()
}

// QueueLen returns the number of operations waiting in the command queue.
func (s *SBrick) QueueLen() int {
	return s.queue.Len()
}

// Channels returns a snapshot of all four channels.
func (s *SBrick) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Channel, len(s.channels))
	copy(out, s.channels[:])
	return out
}

func (s *SBrick) requireConnected() error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	return nil
}

// submit queues job under the driver lifetime so it runs even if the caller
// stops waiting. then runs after a successful job, on a helper goroutine and
// before submit returns to a caller that is still waiting.
func (s *SBrick) submit(ctx context.Context, name string, job cmdqueue.Job, then func()) ([]byte, error) {
	done := s.queue.Enqueue(s.ctx, name, job)
	out := make(chan cmdqueue.Result, 1)

	go func() {
		res := <-done
		if res.Err == nil && then != nil {
			then()
		}
		out <- res
	}()

	select {
	case res := <-out:
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SBrick) write(ctx context.Context, uuid string, msg []byte) error {
	s.logger.WithField("bytes", fmt.Sprintf("% X", msg)).Trace("write")
	return s.t.WriteCharacteristic(ctx, uuid, msg)
}

// Drive sets a channel's power and direction. Power is taken as a magnitude
// and limited to 0-255; any non-zero direction means counter-clockwise.
//
// If a drive write for the channel is already queued, the new values
// replace the pending ones and Drive returns nil without waiting.
func (s *SBrick) Drive(ctx context.Context, cmd DriveCommand) error {
	if !cmd.Channel.Valid() {
		return fmt.Errorf("%w: channel %d", ErrWrongInput, int(cmd.Channel))
	}
	id := cmd.Channel

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	ch := &s.channels[id]
	ch.Power = clampPower(cmd.Power)
	ch.Direction = cmd.Direction.normalize()
	if ch.Busy {
		s.mu.Unlock()
		s.metrics.coalesced.Inc()
		s.logger.WithField("channel", int(id)).Trace("drive coalesced")
		return nil
	}
	ch.Busy = true
	s.mu.Unlock()

	var snapshot Channel
	job := func(ctx context.Context) ([]byte, error) {
		s.mu.Lock()
		ch := &s.channels[id]
		ch.Busy = false
		snapshot = *ch
		s.mu.Unlock()

		msg, err := protocol.EncodeDrive(int(id), byte(snapshot.Direction), uint8(snapshot.Power))
		if err != nil {
			return nil, err
		}
		return nil, s.write(ctx, protocol.RemoteControlCharUUID, msg)
	}

	_, err := s.submit(ctx, "drive", job, func() {
		s.publish(Event{Kind: EventPortChange, Channel: snapshot})
	})
	if err != nil {
		s.logger.WithField("channel", int(id)).WithError(err).Debug("drive failed")
	}
	return err
}

// QuickDrive updates several channels with a single 4-byte write. Channels
// not named in cmds are written with their current values.
//
// While any channel has a write queued, the new values are stored and
// QuickDrive returns nil without writing.
func (s *SBrick) QuickDrive(ctx context.Context, cmds []DriveCommand) error {
	if len(cmds) == 0 {
		return fmt.Errorf("%w: no channel settings", ErrWrongInput)
	}
	for _, c := range cmds {
		if !c.Channel.Valid() {
			return fmt.Errorf("%w: channel %d", ErrWrongInput, int(c.Channel))
		}
	}

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	for _, c := range cmds {
		ch := &s.channels[c.Channel]
		ch.Power = clampPower(c.Power)
		ch.Direction = c.Direction.normalize()
	}
	for _, ch := range s.channels {
		if ch.Busy {
			s.mu.Unlock()
			s.metrics.coalesced.Inc()
			return nil
		}
	}
	for i := range s.channels {
		s.channels[i].Busy = true
	}
	s.mu.Unlock()

	var snapshot [protocol.NumChannels]Channel
	job := func(ctx context.Context) ([]byte, error) {
		var settings [protocol.NumChannels]protocol.ChannelSetting
		s.mu.Lock()
		for i := range s.channels {
			s.channels[i].Busy = false
			snapshot[i] = s.channels[i]
			settings[i] = protocol.ChannelSetting{
				Power:     uint8(snapshot[i].Power),
				Direction: byte(snapshot[i].Direction),
			}
		}
		s.mu.Unlock()

		return nil, s.write(ctx, protocol.QuickDriveCharUUID, protocol.EncodeQuickDrive(settings))
	}

	_, err := s.submit(ctx, "quickdrive", job, func() {
		for _, ch := range snapshot {
			s.publish(Event{Kind: EventPortChange, Channel: ch})
		}
	})
	return err
}

// Stop brakes the given channels and sets their power to 0. Other channels
// are left untouched.
func (s *SBrick) Stop(ctx context.Context, ids ...ChannelID) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no channels", ErrWrongInput)
	}
	for _, id := range ids {
		if !id.Valid() {
			return fmt.Errorf("%w: channel %d", ErrWrongInput, int(id))
		}
	}
	if err := s.requireConnected(); err != nil {
		return err
	}
	return s.stop(ctx, ids)
}

// StopAll brakes all four channels.
func (s *SBrick) StopAll(ctx context.Context) error {
	return s.Stop(ctx, AllChannels...)
}

func (s *SBrick) stop(ctx context.Context, ids []ChannelID) error {
	wire := make([]int, len(ids))
	for i, id := range ids {
		wire[i] = int(id)
	}
	msg, err := protocol.EncodeStop(wire...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrongInput, err)
	}

	snapshot := make([]Channel, 0, len(ids))
	s.mu.Lock()
	for _, id := range ids {
		s.channels[id].Power = 0
		snapshot = append(snapshot, s.channels[id])
	}
	s.mu.Unlock()

	_, err = s.submit(ctx, "stop", func(ctx context.Context) ([]byte, error) {
		return nil, s.write(ctx, protocol.RemoteControlCharUUID, msg)
	}, func() {
		for _, ch := range snapshot {
			s.publish(Event{Kind: EventPortChange, Channel: ch})
		}
	})
	return err
}

// Telemetry

// readADC queries ADC channels and returns their raw values.
func (s *SBrick) readADC(ctx context.Context, name string, channels ...byte) ([]int16, error) {
	data, err := s.submit(ctx, name, func(ctx context.Context) ([]byte, error) {
		if err := s.write(ctx, protocol.RemoteControlCharUUID, protocol.EncodeADCQuery(channels...)); err != nil {
			return nil, err
		}
		return s.t.ReadCharacteristic(ctx, protocol.RemoteControlCharUUID)
	}, nil)
	if err != nil {
		return nil, err
	}
	if code, ok := protocol.ParseErrorResponse(data); ok {
		return nil, &DeviceError{Code: byte(code)}
	}
	return protocol.DecodeADC(data, len(channels))
}

// Battery returns the supply voltage in volts.
func (s *SBrick) Battery(ctx context.Context) (float64, error) {
	if err := s.requireConnected(); err != nil {
		return 0, err
	}
	raw, err := s.readADC(ctx, "adc_volt", protocol.ADCVolt)
	if err != nil {
		return 0, err
	}
	volts := protocol.VoltsFromRaw(raw[0])
	s.metrics.battery.Set(volts)
	return volts, nil
}

// BatteryPercent returns the supply voltage as a percentage of a full 9V
// battery.
func (s *SBrick) BatteryPercent(ctx context.Context) (int, error) {
	volts, err := s.Battery(ctx)
	if err != nil {
		return 0, err
	}
	return int(math.Abs(volts / protocol.MaxVolt * 100)), nil
}

// Temperature returns the internal temperature in degrees Celsius, or
// Fahrenheit when fahrenheit is set.
func (s *SBrick) Temperature(ctx context.Context, fahrenheit bool) (float64, error) {
	if err := s.requireConnected(); err != nil {
		return 0, err
	}
	raw, err := s.readADC(ctx, "adc_temp", protocol.ADCTemp)
	if err != nil {
		return 0, err
	}
	celsius := protocol.CelsiusFromRaw(raw[0])
	s.metrics.temperature.Set(celsius)
	if fahrenheit {
		return protocol.CelsiusToFahrenheit(celsius), nil
	}
	return celsius, nil
}
