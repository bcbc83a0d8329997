package recorder

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeamusWaldron/sbrick_ble_library"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/ble"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/storage"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSession(t *testing.T) (*Session, *storage.DB) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "sbrick.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSession(db, quietLogger()), db
}

func TestSessionStartEnd(t *testing.T) {
	s, db := newTestSession(t)
	assert.Equal(t, StateIdle, s.State())

	id, err := s.Start("SBrick", "4.17", "bench")
	require.NoError(t, err)
	assert.Equal(t, StateRecording, s.State())
	assert.Equal(t, id, s.SessionID())

	_, err = s.Start("SBrick", "4.17", "")
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	require.NoError(t, s.End())
	assert.Equal(t, StateEnded, s.State())
	assert.ErrorIs(t, s.End(), ErrNotRecording)

	stored, err := storage.NewSessionRepository(db).Get(id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotNil(t, stored.EndedAt)
}

func TestHandleEventIgnoredWhenIdle(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.HandleEvent(sbrick.Event{Kind: sbrick.EventConnected, Device: "SBrick"}))
	assert.Zero(t, s.EventCount())
}

func TestHandleEventPayloads(t *testing.T) {
	s, db := newTestSession(t)
	id, err := s.Start("SBrick", "4.17", "")
	require.NoError(t, err)

	now := time.Now()
	events := []sbrick.Event{
		{Kind: sbrick.EventConnected, Time: now, Device: "SBrick"},
		{Kind: sbrick.EventPortChange, Time: now, Channel: sbrick.Channel{
			ID: sbrick.Channel2, Power: 200, Direction: sbrick.CounterClockwise,
		}},
		{Kind: sbrick.EventSensorStart, Time: now, Port: 1},
		{Kind: sbrick.EventSensorValueChange, Time: now, Port: 1, Reading: sbrick.SensorReading{
			Port: 1, Series: sbrick.SeriesWeDo, Type: sbrick.SensorTilt, Value: 97, State: sbrick.TiltFlat,
		}},
	}
	for _, e := range events {
		require.NoError(t, s.HandleEvent(e))
	}
	assert.Equal(t, 4, s.EventCount())

	eventRepo := storage.NewEventRepository(db)
	ports, err := eventRepo.GetByType(id, "port_change")
	require.NoError(t, err)
	require.Len(t, ports, 1)

	var port map[string]any
	require.NoError(t, json.Unmarshal([]byte(ports[0].PayloadJSON), &port))
	assert.Equal(t, "top-right", port["position"])
	assert.Equal(t, float64(200), port["power"])
	assert.Equal(t, "ccw", port["direction"])

	starts, err := eventRepo.GetByType(id, "sensor_start")
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.JSONEq(t, `{"port":1}`, starts[0].PayloadJSON)

	readings, err := storage.NewReadingRepository(db).GetBySession(id, storage.ReadingSensor)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, float64(97), readings[0].Value)
	require.NotNil(t, readings[0].Port)
	assert.Equal(t, 1, *readings[0].Port)
	require.NotNil(t, readings[0].State)
	assert.Equal(t, sbrick.TiltFlat, *readings[0].State)
}

func TestRecordTelemetry(t *testing.T) {
	s, db := newTestSession(t)
	assert.ErrorIs(t, s.RecordTelemetry(storage.ReadingBattery, 8.1), ErrNotRecording)

	id, err := s.Start("SBrick", "4.17", "")
	require.NoError(t, err)
	require.NoError(t, s.RecordTelemetry(storage.ReadingBattery, 8.1))
	require.NoError(t, s.RecordTelemetry(storage.ReadingBattery, 7.9))
	require.NoError(t, s.RecordTelemetry(storage.ReadingTemperature, 31.5))

	summary, err := storage.NewReadingRepository(db).Summarize(id)
	require.NoError(t, err)
	byKind := make(map[string]storage.ReadingSummary)
	for _, r := range summary {
		byKind[r.Kind] = r
	}
	assert.Equal(t, 2, byKind[storage.ReadingBattery].Count)
	assert.InDelta(t, 7.9, byKind[storage.ReadingBattery].Min, 1e-9)
	assert.Equal(t, 1, byKind[storage.ReadingTemperature].Count)
}

func TestResume(t *testing.T) {
	s, db := newTestSession(t)
	id, err := s.Start("SBrick", "4.17", "")
	require.NoError(t, err)
	require.NoError(t, s.HandleEvent(sbrick.Event{Kind: sbrick.EventConnected, Device: "SBrick"}))

	resumed := NewSession(db, quietLogger())
	require.NoError(t, resumed.Resume(id))
	assert.Equal(t, StateRecording, resumed.State())
	assert.Equal(t, 1, resumed.EventCount())

	require.NoError(t, resumed.End())
	assert.Error(t, NewSession(db, quietLogger()).Resume(id))
	assert.Error(t, NewSession(db, quietLogger()).Resume("missing"))
}

func TestSubscribeRecordsDriverEvents(t *testing.T) {
	s, db := newTestSession(t)

	d := ble.NewDummy()
	brick := sbrick.New(d, sbrick.WithLogger(quietLogger()), sbrick.WithKeepaliveInterval(time.Hour))
	defer brick.Close()

	id, err := s.Start(ble.DummyDeviceName, "4.17", "")
	require.NoError(t, err)
	unsubscribe := s.Subscribe(brick)

	ctx := context.Background()
	require.NoError(t, brick.Connect(ctx))
	require.NoError(t, brick.Drive(ctx, sbrick.DriveCommand{Channel: sbrick.Channel0, Power: 100}))

	eventRepo := storage.NewEventRepository(db)
	assert.Eventually(t, func() bool {
		ports, err := eventRepo.GetByType(id, "port_change")
		return err == nil && len(ports) == 1
	}, time.Second, 10*time.Millisecond)

	unsubscribe()
	require.NoError(t, brick.Disconnect(ctx))

	counts, err := eventRepo.CountByType(id)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["connected"])
	assert.Zero(t, counts["disconnected"])
}

func TestResumeOpen(t *testing.T) {
	s, db := newTestSession(t)

	id, err := s.ResumeOpen("SBrick")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, StateIdle, s.State())

	ended, err := s.Start("SBrick", "4.17", "")
	require.NoError(t, err)
	require.NoError(t, s.End())

	other := NewSession(db, quietLogger())
	_, err = other.Start("SBrick-2", "4.17", "")
	require.NoError(t, err)

	interrupted := NewSession(db, quietLogger())
	open, err := interrupted.Start("SBrick", "4.17", "")
	require.NoError(t, err)
	require.NoError(t, interrupted.HandleEvent(sbrick.Event{Kind: sbrick.EventConnected, Device: "SBrick"}))

	resumed := NewSession(db, quietLogger())
	id, err = resumed.ResumeOpen("SBrick")
	require.NoError(t, err)
	assert.Equal(t, open, id)
	assert.NotEqual(t, ended, id)
	assert.Equal(t, StateRecording, resumed.State())
	assert.Equal(t, 1, resumed.EventCount())

	_, err = resumed.ResumeOpen("SBrick")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
}
