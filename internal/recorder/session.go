// Package recorder records SBrick driver events and telemetry sessions.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SeamusWaldron/sbrick_ble_library"
	"github.com/SeamusWaldron/sbrick_ble_library/internal/storage"
)

// Errors
var (
	ErrAlreadyRecording = errors.New("recorder: session already in progress")
	ErrNotRecording     = errors.New("recorder: no session in progress")
)

// SessionState represents the current state of a recording session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateRecording
	StateEnded
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Session records driver events and telemetry into the database.
type Session struct {
	db     *storage.DB
	logger *logrus.Entry

	mu         sync.RWMutex
	state      SessionState
	sessionID  string
	startTime  time.Time
	eventCount int

	// Repositories
	sessionRepo *storage.SessionRepository
	eventRepo   *storage.EventRepository
	readingRepo *storage.ReadingRepository
}

// NewSession creates a new session manager.
func NewSession(db *storage.DB, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		db:          db,
		logger:      logger.WithField("component", "recorder"),
		state:       StateIdle,
		sessionRepo: storage.NewSessionRepository(db),
		eventRepo:   storage.NewEventRepository(db),
		readingRepo: storage.NewReadingRepository(db),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SessionID returns the current session ID.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// ElapsedMs returns the elapsed time since session start in milliseconds.
func (s *Session) ElapsedMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRecording {
		return 0
	}
	return time.Since(s.startTime).Milliseconds()
}

// EventCount returns the number of events stored in this session.
func (s *Session) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventCount
}

// Start starts a new recording session.
func (s *Session) Start(deviceName, firmware, notes string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording {
		return "", ErrAlreadyRecording
	}

	sessionID, err := s.sessionRepo.Create(deviceName, firmware, notes)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	s.sessionID = sessionID
	s.startTime = time.Now()
	s.eventCount = 0
	s.state = StateRecording

	return sessionID, nil
}

// End ends the current recording session.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return ErrNotRecording
	}

	if err := s.sessionRepo.End(s.sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	s.state = StateEnded
	return nil
}

// Resume continues an interrupted session, keeping its start time.
func (s *Session) Resume(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume(sessionID)
}

// ResumeOpen resumes the newest session for deviceName that a previous run
// left without ending. It returns the resumed ID, or "" when there is none.
func (s *Session) ResumeOpen(deviceName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording {
		return "", ErrAlreadyRecording
	}

	open, err := s.sessionRepo.GetOpen(deviceName)
	if err != nil {
		return "", err
	}
	if open == nil {
		return "", nil
	}
	if err := s.resume(open.SessionID); err != nil {
		return "", err
	}
	s.logger.WithField("session", open.SessionID).Info("resumed open session")
	return open.SessionID, nil
}

func (s *Session) resume(sessionID string) error {
	session, err := s.sessionRepo.Get(sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	if session.EndedAt != nil {
		return fmt.Errorf("session already ended")
	}

	events, err := s.eventRepo.GetBySession(sessionID)
	if err != nil {
		return err
	}

	s.sessionID = sessionID
	s.startTime = session.StartedAt
	s.eventCount = len(events)
	s.state = StateRecording

	return nil
}

type portPayload struct {
	Channel   int    `json:"channel"`
	Position  string `json:"position"`
	Power     int    `json:"power"`
	Direction string `json:"direction"`
}

type portIDPayload struct {
	Port int `json:"port"`
}

type devicePayload struct {
	Device string `json:"device"`
}

// payload returns the JSON stored for an event.
func payload(e sbrick.Event) (string, error) {
	var v any
	switch e.Kind {
	case sbrick.EventPortChange:
		v = portPayload{
			Channel:   int(e.Channel.ID),
			Position:  e.Channel.ID.String(),
			Power:     e.Channel.Power,
			Direction: e.Channel.Direction.String(),
		}
	case sbrick.EventSensorChange, sbrick.EventSensorValueChange:
		v = e.Reading
	case sbrick.EventSensorStart, sbrick.EventSensorStop:
		v = portIDPayload{Port: e.Port}
	default:
		v = devicePayload{Device: e.Device}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// HandleEvent stores a driver event. Sensor value changes are also stored as
// readings. Events are ignored while not recording.
func (s *Session) HandleEvent(e sbrick.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return nil
	}

	tsMs := s.tsMs(e.Time)

	payloadJSON, err := payload(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if _, err := s.eventRepo.Create(s.sessionID, tsMs, e.Kind.String(), payloadJSON); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	s.eventCount++

	if e.Kind == sbrick.EventSensorValueChange {
		port := e.Reading.Port
		state := e.Reading.State
		if _, err := s.readingRepo.Create(s.sessionID, tsMs, storage.ReadingSensor, &port, float64(e.Reading.Value), &state); err != nil {
			return fmt.Errorf("failed to store sensor reading: %w", err)
		}
	}

	return nil
}

// RecordTelemetry stores a battery or temperature reading.
func (s *Session) RecordTelemetry(kind string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return ErrNotRecording
	}

	if _, err := s.readingRepo.Create(s.sessionID, s.tsMs(time.Now()), kind, nil, value, nil); err != nil {
		return fmt.Errorf("failed to store %s reading: %w", kind, err)
	}
	return nil
}

// Subscribe records every event from brick until the returned function is
// called. Storage errors are logged.
func (s *Session) Subscribe(brick *sbrick.SBrick) (unsubscribe func()) {
	return brick.Events().Subscribe(func(e sbrick.Event) {
		if err := s.HandleEvent(e); err != nil {
			s.logger.WithError(err).WithField("event", e.Kind.String()).Warn("failed to record event")
		}
	})
}

// tsMs converts t to milliseconds since session start. Callers hold s.mu.
func (s *Session) tsMs(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Sub(s.startTime).Milliseconds()
}
