package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "sbrick.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sbrick.db")
	db, err := Open(path)
	require.NoError(t, err)

	version, err := db.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Close())

	// Reopening is a no-op.
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	version, err = db.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewSessionRepository(db)

	id, err := repo.Create("SBrick", "4.17", "")
	require.NoError(t, err)

	s, err := repo.Get(id)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "SBrick", *s.DeviceName)
	assert.Equal(t, "4.17", *s.Firmware)
	assert.Nil(t, s.Notes)
	assert.Nil(t, s.EndedAt)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, repo.End(id))

	s, err = repo.Get(id)
	require.NoError(t, err)
	require.NotNil(t, s.EndedAt)
	require.NotNil(t, s.DurationMs)
	assert.GreaterOrEqual(t, *s.DurationMs, int64(1))

	missing, err := repo.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetOpenSession(t *testing.T) {
	db := openTestDB(t)
	repo := NewSessionRepository(db)

	open, err := repo.GetOpen("SBrick")
	require.NoError(t, err)
	assert.Nil(t, open)

	id, err := repo.Create("SBrick", "4.17", "")
	require.NoError(t, err)
	_, err = repo.Create("Other", "4.17", "")
	require.NoError(t, err)

	open, err = repo.GetOpen("SBrick")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, id, open.SessionID)

	require.NoError(t, repo.End(id))
	open, err = repo.GetOpen("SBrick")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestSessionListAndDelete(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionRepository(db)
	events := NewEventRepository(db)

	last, err := sessions.GetLast()
	require.NoError(t, err)
	assert.Nil(t, last)

	first, err := sessions.Create("a", "", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := sessions.Create("b", "", "")
	require.NoError(t, err)

	list, err := sessions.List(10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].SessionID)

	last, err = sessions.GetLast()
	require.NoError(t, err)
	assert.Equal(t, second, last.SessionID)

	_, err = events.Create(first, 1, "port_change", "{}")
	require.NoError(t, err)
	require.NoError(t, sessions.Delete(first))

	remaining, err := events.GetBySession(first)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestEvents(t *testing.T) {
	db := openTestDB(t)
	id, err := NewSessionRepository(db).Create("SBrick", "", "")
	require.NoError(t, err)

	repo := NewEventRepository(db)
	_, err = repo.Create(id, 20, "sensor_change", `{"state":"flat"}`)
	require.NoError(t, err)
	_, err = repo.Create(id, 10, "port_change", `{"power":200}`)
	require.NoError(t, err)
	_, err = repo.Create(id, 30, "port_change", `{"power":0}`)
	require.NoError(t, err)

	all, err := repo.GetBySession(id)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(10), all[0].TsMs)

	ports, err := repo.GetByType(id, "port_change")
	require.NoError(t, err)
	assert.Len(t, ports, 2)

	counts, err := repo.CountByType(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"port_change": 2, "sensor_change": 1}, counts)
}

func TestEventRequiresSession(t *testing.T) {
	db := openTestDB(t)
	_, err := NewEventRepository(db).Create("missing", 1, "port_change", "{}")
	assert.Error(t, err)
}

func TestReadings(t *testing.T) {
	db := openTestDB(t)
	id, err := NewSessionRepository(db).Create("SBrick", "", "")
	require.NoError(t, err)

	repo := NewReadingRepository(db)
	port := 1
	state := "flat"
	_, err = repo.Create(id, 1, ReadingBattery, nil, 8.0, nil)
	require.NoError(t, err)
	_, err = repo.Create(id, 2, ReadingBattery, nil, 7.0, nil)
	require.NoError(t, err)
	_, err = repo.Create(id, 3, ReadingSensor, &port, 97, &state)
	require.NoError(t, err)

	sensor, err := repo.GetBySession(id, ReadingSensor)
	require.NoError(t, err)
	require.Len(t, sensor, 1)
	require.NotNil(t, sensor[0].Port)
	assert.Equal(t, 1, *sensor[0].Port)
	assert.Equal(t, "flat", *sensor[0].State)

	all, err := repo.GetBySession(id, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	summary, err := repo.Summarize(id)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, ReadingSummary{Kind: ReadingBattery, Count: 2, Min: 7, Max: 8, Avg: 7.5}, summary[0])
}
