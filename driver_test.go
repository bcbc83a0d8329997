package sbrick

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/ble"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofKind(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// newConnected returns a driver connected to a dummy. The keepalive is slowed
// down so it does not show up in write logs.
func newConnected(t *testing.T, opts ...Option) (*SBrick, *ble.Dummy, *eventLog) {
	t.Helper()

	d := ble.NewDummy()
	opts = append([]Option{WithLogger(quietLogger()), WithKeepaliveInterval(time.Hour)}, opts...)
	b := New(d, opts...)
	t.Cleanup(func() { b.Close() })

	events := &eventLog{}
	b.Events().Subscribe(events.add)

	require.NoError(t, b.Connect(context.Background()))
	d.ResetWrites()
	return b, d, events
}

func remoteWrites(d *ble.Dummy) [][]byte {
	return d.WritesTo(protocol.RemoteControlCharUUID)
}

func TestConnectLifecycle(t *testing.T) {
	ctx := context.Background()
	b, d, events := newConnected(t)

	assert.Equal(t, StateConnected, b.State())
	assert.True(t, b.IsConnected())
	assert.Equal(t, ble.DummyDeviceName, b.DeviceName())
	assert.Len(t, events.ofKind(EventConnected), 1)

	assert.ErrorIs(t, b.Connect(ctx), ErrAlreadyConnected)

	require.NoError(t, b.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, b.State())
	assert.False(t, d.IsConnected())
	assert.Len(t, events.ofKind(EventDisconnected), 1)
	assert.Equal(t, [][]byte{{0x00, 0x00, 0x01, 0x02, 0x03}}, remoteWrites(d))

	assert.ErrorIs(t, b.Disconnect(ctx), ErrNotConnected)

	require.NoError(t, b.Connect(ctx))
	assert.Equal(t, StateConnected, b.State())
}

func TestConnectRejectsOldFirmware(t *testing.T) {
	d := ble.NewDummy()
	d.SetFirmware("4.16")
	b := New(d, WithLogger(quietLogger()))
	defer b.Close()

	err := b.Connect(context.Background())
	assert.ErrorIs(t, err, ErrFirmwareIncompatible)
	assert.False(t, d.IsConnected())
	assert.Equal(t, StateDisconnected, b.State())
}

func TestFirmwareCompatible(t *testing.T) {
	assert.True(t, firmwareCompatible("4.17"))
	assert.True(t, firmwareCompatible("4.17\x00\x00"))
	assert.True(t, firmwareCompatible("5.0b2"))
	assert.False(t, firmwareCompatible("4.16"))
	assert.False(t, firmwareCompatible(""))
	assert.False(t, firmwareCompatible("beta"))
}

func TestConnectTransportError(t *testing.T) {
	d := ble.NewDummy()
	boom := errors.New("adapter off")
	d.SetConnectError(boom)
	b := New(d, WithLogger(quietLogger()))
	defer b.Close()

	assert.ErrorIs(t, b.Connect(context.Background()), boom)
	assert.Equal(t, StateDisconnected, b.State())

	b2 := New(ble.NewDummy(), WithLogger(quietLogger()), WithNamePrefix("Other"))
	defer b2.Close()
	assert.ErrorIs(t, b2.Connect(context.Background()), ErrDeviceNotFound)
}

func TestCommandsRequireConnection(t *testing.T) {
	ctx := context.Background()
	b := New(ble.NewDummy(), WithLogger(quietLogger()))
	defer b.Close()

	assert.ErrorIs(t, b.Drive(ctx, DriveCommand{Channel: Channel0, Power: 10}), ErrNotConnected)
	assert.ErrorIs(t, b.QuickDrive(ctx, []DriveCommand{{Channel: Channel0}}), ErrNotConnected)
	assert.ErrorIs(t, b.Stop(ctx, Channel0), ErrNotConnected)
	_, err := b.Battery(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = b.GetSensor(ctx, 0, "")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDriveClampsPowerAndNormalizesDirection(t *testing.T) {
	ctx := context.Background()
	b, d, events := newConnected(t)

	require.NoError(t, b.Drive(ctx, DriveCommand{Channel: Channel2, Direction: 5, Power: 300}))
	require.NoError(t, b.Drive(ctx, DriveCommand{Channel: Channel1, Direction: Clockwise, Power: -100}))
	require.NoError(t, b.Drive(ctx, DriveCommand{Channel: Channel3, Power: math.MinInt}))

	assert.Equal(t, [][]byte{
		{0x01, 0x02, 0x01, 0xFF},
		{0x01, 0x01, 0x00, 100},
		{0x01, 0x03, 0x00, 0xFF},
	}, remoteWrites(d))

	changes := events.ofKind(EventPortChange)
	require.Len(t, changes, 3)
	assert.Equal(t, Channel{ID: Channel2, Power: 255, Direction: CounterClockwise}, changes[0].Channel)
	assert.Equal(t, Channel{ID: Channel1, Power: 100, Direction: Clockwise}, changes[1].Channel)
	assert.Equal(t, Channel{ID: Channel3, Power: 255, Direction: Clockwise}, changes[2].Channel)

	for _, ch := range b.Channels() {
		assert.GreaterOrEqual(t, ch.Power, 0)
		assert.LessOrEqual(t, ch.Power, protocol.MaxPower)
	}
}

func TestClampPower(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0},
		{-1, 1},
		{255, 255},
		{-255, 255},
		{256, 255},
		{-256, 255},
		{math.MaxInt, 255},
		{math.MinInt, 255},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampPower(tt.in), "clampPower(%d)", tt.in)
	}
}

func TestDriveWrongInput(t *testing.T) {
	b, d, _ := newConnected(t)

	err := b.Drive(context.Background(), DriveCommand{Channel: 4, Power: 10})
	assert.ErrorIs(t, err, ErrWrongInput)
	assert.Empty(t, d.Writes())
}

func TestDriveCoalescesPendingWrites(t *testing.T) {
	ctx := context.Background()
	b, d, _ := newConnected(t)
	d.SetLatency(50 * time.Millisecond)

	// Occupy the queue so the first drive stays pending.
	go b.Battery(ctx)
	require.Eventually(t, func() bool { return b.queue.Busy() }, time.Second, time.Millisecond)

	first := make(chan error, 1)
	go func() {
		first <- b.Drive(ctx, DriveCommand{Channel: Channel0, Power: 10})
	}()
	require.Eventually(t, func() bool { return b.Channels()[0].Busy }, time.Second, time.Millisecond)

	assert.NoError(t, b.Drive(ctx, DriveCommand{Channel: Channel0, Power: 20}))
	assert.NoError(t, b.Drive(ctx, DriveCommand{Channel: Channel0, Direction: CounterClockwise, Power: 30}))
	require.NoError(t, <-first)

	var drives [][]byte
	for _, w := range remoteWrites(d) {
		if w[0] == protocol.CmdDrive {
			drives = append(drives, w)
		}
	}
	assert.Equal(t, [][]byte{{0x01, 0x00, 0x01, 30}}, drives)
	assert.False(t, b.Channels()[0].Busy)
}

func TestQueueNeverOverlapsWrites(t *testing.T) {
	ctx := context.Background()
	b, d, _ := newConnected(t)
	d.SetLatency(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := ChannelID(i % 4)
			switch i % 3 {
			case 0:
				b.Drive(ctx, DriveCommand{Channel: ch, Power: i * 8})
			case 1:
				b.QuickDrive(ctx, []DriveCommand{{Channel: ch, Power: i}})
			case 2:
				b.Stop(ctx, ch)
			}
		}(i)
	}
	wg.Wait()

	assert.NotEmpty(t, d.Writes())
	assert.Equal(t, 1, d.MaxInFlight())
}

func TestQuickDrive(t *testing.T) {
	ctx := context.Background()
	b, d, events := newConnected(t)

	err := b.QuickDrive(ctx, []DriveCommand{
		{Channel: Channel0, Direction: Clockwise, Power: 255},
		{Channel: Channel2, Direction: CounterClockwise, Power: 128},
	})
	require.NoError(t, err)

	assert.Equal(t, [][]byte{{0xFE, 0x00, 63<<1 | 1, 0x00}}, d.WritesTo(protocol.QuickDriveCharUUID))
	assert.Len(t, events.ofKind(EventPortChange), 4)

	channels := b.Channels()
	assert.Equal(t, 255, channels[0].Power)
	assert.Equal(t, 128, channels[2].Power)
	assert.Equal(t, CounterClockwise, channels[2].Direction)

	assert.ErrorIs(t, b.QuickDrive(ctx, nil), ErrWrongInput)
	assert.ErrorIs(t, b.QuickDrive(ctx, []DriveCommand{{Channel: 9}}), ErrWrongInput)
}

func TestStopOnlyZeroesNamedChannels(t *testing.T) {
	ctx := context.Background()
	b, d, _ := newConnected(t)

	require.NoError(t, b.Drive(ctx, DriveCommand{Channel: Channel1, Power: 200}))
	require.NoError(t, b.Drive(ctx, DriveCommand{Channel: Channel2, Power: 150}))
	d.ResetWrites()

	require.NoError(t, b.Stop(ctx, Channel2))

	channels := b.Channels()
	assert.Equal(t, 200, channels[1].Power)
	assert.Equal(t, 0, channels[2].Power)
	assert.Equal(t, [][]byte{{0x00, 0x02}}, remoteWrites(d))

	require.NoError(t, b.StopAll(ctx))
	for _, ch := range b.Channels() {
		assert.Equal(t, 0, ch.Power)
	}

	assert.ErrorIs(t, b.Stop(ctx), ErrWrongInput)
	assert.ErrorIs(t, b.Stop(ctx, Channel0, 7), ErrWrongInput)
}

func TestTelemetry(t *testing.T) {
	ctx := context.Background()
	b, d, _ := newConnected(t)

	d.SetADC(protocol.ADCTemp, 0)
	c, err := b.Temperature(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, -160.0, c)

	f, err := b.Temperature(ctx, true)
	require.NoError(t, err)
	assert.InDelta(t, -256.0, f, 1e-9)

	d.SetADC(protocol.ADCVolt, 10982)
	v, err := b.Battery(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 4.4998, v, 1e-3)

	pct, err := b.BatteryPercent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 49, pct)

	assert.Contains(t, remoteWrites(d), []byte{0x0F, 0x08})
	assert.Contains(t, remoteWrites(d), []byte{0x0F, 0x09})
}

func TestDeviceErrorResponse(t *testing.T) {
	b, d, _ := newConnected(t)
	d.SetResponder(func(uuid string, last []byte) []byte {
		if uuid == protocol.RemoteControlCharUUID {
			return []byte{byte(protocol.ErrorThermal)}
		}
		return nil
	})

	_, err := b.Battery(context.Background())
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, byte(0x87), devErr.Code)
	assert.Contains(t, err.Error(), "thermal protection")
}

func TestDeviceInfo(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newConnected(t)

	info, err := b.DeviceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, DeviceInfo{
		ModelNumber:      "SBrick",
		FirmwareRevision: "4.17",
		HardwareRevision: "4.0",
		SoftwareRevision: "4.17",
		ManufacturerName: "Vengit Ltd.",
	}, info)

	fw, err := b.FirmwareVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4.17", fw)

	_, err = b.Info(ctx, "serial")
	assert.ErrorIs(t, err, ErrWrongInput)
}

func TestKeepalive(t *testing.T) {
	b, d, events := newConnected(t, WithKeepaliveInterval(5*time.Millisecond))

	lost := make(chan struct{}, 1)
	b.OnConnectionLost(func() { lost <- struct{}{} })

	require.Eventually(t, func() bool {
		for _, w := range remoteWrites(d) {
			if assert.ObjectsAreEqual([]byte{0x0F, 0x09}, w) {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	d.SimulateLinkLoss()

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("connection loss not detected")
	}
	assert.Equal(t, StateDisconnected, b.State())
	assert.Len(t, events.ofKind(EventConnectionLost), 1)
	assert.ErrorIs(t, b.Drive(context.Background(), DriveCommand{Channel: Channel0}), ErrNotConnected)
}

func TestCloseFromConnectionLostHandler(t *testing.T) {
	b, d, _ := newConnected(t, WithKeepaliveInterval(5*time.Millisecond))

	closed := make(chan error, 1)
	b.OnConnectionLost(func() { closed <- b.Close() })

	d.SimulateLinkLoss()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close inside the connection lost handler did not return")
	}
	assert.Equal(t, StateDisconnected, b.State())
}

func TestCloseStopsEverything(t *testing.T) {
	d := ble.NewDummy()
	b := New(d, WithLogger(quietLogger()))
	require.NoError(t, b.Connect(context.Background()))

	require.NoError(t, b.Close())
	assert.False(t, d.IsConnected())
	assert.Equal(t, StateDisconnected, b.State())
}
