package storage

import (
	"database/sql"
	"fmt"
)

// Reading kinds.
const (
	ReadingBattery     = "battery"
	ReadingTemperature = "temperature"
	ReadingSensor      = "sensor"
)

// Reading is one telemetry sample.
type Reading struct {
	ReadingID int64
	SessionID string
	TsMs      int64
	Kind      string
	Port      *int
	Value     float64
	State     *string
}

// ReadingSummary aggregates the readings of one kind.
type ReadingSummary struct {
	Kind  string
	Count int
	Min   float64
	Max   float64
	Avg   float64
}

// ReadingRepository provides CRUD operations for readings.
type ReadingRepository struct {
	db *DB
}

// NewReadingRepository creates a new reading repository.
func NewReadingRepository(db *DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// Create stores a reading and returns its ID. port and state may be nil.
func (r *ReadingRepository) Create(sessionID string, tsMs int64, kind string, port *int, value float64, state *string) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO readings (session_id, ts_ms, kind, port, value, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, tsMs, kind, port, value, state)

	if err != nil {
		return 0, fmt.Errorf("failed to create reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get reading ID: %w", err)
	}

	return id, nil
}

// GetBySession retrieves the readings of one kind for a session. An empty
// kind returns every reading.
func (r *ReadingRepository) GetBySession(sessionID, kind string) ([]Reading, error) {
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = r.db.Query(`
			SELECT reading_id, session_id, ts_ms, kind, port, value, state
			FROM readings
			WHERE session_id = ?
			ORDER BY ts_ms, reading_id
		`, sessionID)
	} else {
		rows, err = r.db.Query(`
			SELECT reading_id, session_id, ts_ms, kind, port, value, state
			FROM readings
			WHERE session_id = ? AND kind = ?
			ORDER BY ts_ms, reading_id
		`, sessionID, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var rd Reading
		if err := rows.Scan(&rd.ReadingID, &rd.SessionID, &rd.TsMs, &rd.Kind, &rd.Port, &rd.Value, &rd.State); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, rd)
	}

	return readings, rows.Err()
}

// Summarize returns count, min, max and average per reading kind.
func (r *ReadingRepository) Summarize(sessionID string) ([]ReadingSummary, error) {
	rows, err := r.db.Query(`
		SELECT kind, COUNT(*), MIN(value), MAX(value), AVG(value)
		FROM readings
		WHERE session_id = ?
		GROUP BY kind
		ORDER BY kind
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize readings: %w", err)
	}
	defer rows.Close()

	var out []ReadingSummary
	for rows.Next() {
		var s ReadingSummary
		if err := rows.Scan(&s.Kind, &s.Count, &s.Min, &s.Max, &s.Avg); err != nil {
			return nil, fmt.Errorf("failed to scan reading summary: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}
