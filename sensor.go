package sbrick

import (
	"context"
	"fmt"
	"time"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
)

// Sensor types and states.
const (
	SensorUnknown = "unknown"

	SensorTilt   = "tilt"
	SensorMotion = "motion"

	TiltUp    = "up"
	TiltRight = "right"
	TiltFlat  = "flat"
	TiltDown  = "down"
	TiltLeft  = "left"

	MotionClose    = "close"
	MotionMidrange = "midrange"
	MotionClear    = "clear"
)

// SeriesWeDo is the only supported sensor series.
const SeriesWeDo = "wedo"

// Range maps an inclusive value interval to a label. A bound only applies
// when its Has flag is set.
type Range struct {
	Label  string
	Min    int
	Max    int
	HasMin bool
	HasMax bool
}

// Contains reports whether v falls within r.
func (r Range) Contains(v int) bool {
	if r.HasMin && v < r.Min {
		return false
	}
	if r.HasMax && v > r.Max {
		return false
	}
	return true
}

func between(label string, min, max int) Range {
	return Range{Label: label, Min: min, Max: max, HasMin: true, HasMax: true}
}

// Classification tables, checked in order.
var (
	SensorTypeRanges = []Range{
		between(SensorTilt, 48, 52),
		between(SensorMotion, 105, 110),
	}

	TiltRanges = []Range{
		between(TiltUp, 14, 18),
		between(TiltRight, 51, 55),
		between(TiltFlat, 95, 100),
		between(TiltDown, 143, 148),
		between(TiltLeft, 191, 196),
	}

	MotionRanges = []Range{
		{Label: MotionClose, Max: 60, HasMax: true},
		between(MotionMidrange, 61, 109),
		{Label: MotionClear, Min: 110, HasMin: true},
	}
)

// Classify returns the label of the first range containing v, or
// SensorUnknown.
func Classify(v int, ranges []Range) string {
	for _, r := range ranges {
		if r.Contains(v) {
			return r.Label
		}
	}
	return SensorUnknown
}

// ClassifySensorType identifies the sensor on a port from its channel 0 value.
func ClassifySensorType(ch0 int) string {
	return Classify(ch0, SensorTypeRanges)
}

// SensorStateFor classifies a sensor value for the given sensor type.
func SensorStateFor(value int, sensorType string) string {
	switch sensorType {
	case SensorTilt:
		return Classify(value, TiltRanges)
	case SensorMotion:
		return Classify(value, MotionRanges)
	default:
		return SensorUnknown
	}
}

// SensorReading is one sensor measurement.
type SensorReading struct {
	Port   int       `json:"port"`
	Series string    `json:"series"`
	Type   string    `json:"type"`
	Ch0Raw int       `json:"ch0_raw"` // 12-bit sample
	Ch1Raw int       `json:"ch1_raw"` // 12-bit sample
	Ch0    int       `json:"ch0"`     // 0-255
	Value  int       `json:"value"`   // 0-255
	State  string    `json:"state"`
	Time   time.Time `json:"time"`
}

type sensorState struct {
	lastValue *int
	lastState string
	keepAlive bool
	running   bool
}

// sensor returns the state for port, creating it on first use.
// Callers hold s.mu.
func (s *SBrick) sensor(port int) *sensorState {
	so, ok := s.sensors[port]
	if !ok {
		so = &sensorState{keepAlive: true}
		s.sensors[port] = so
	}
	return so
}

func validPort(port int) error {
	if !ChannelID(port).Valid() {
		return fmt.Errorf("%w: port %d", ErrWrongInput, port)
	}
	return nil
}

// GetSensor reads the sensor on port once. An empty series means "wedo",
// the only series supported.
func (s *SBrick) GetSensor(ctx context.Context, port int, series string) (SensorReading, error) {
	if err := validPort(port); err != nil {
		return SensorReading{}, err
	}
	if series == "" {
		series = SeriesWeDo
	}
	if series != SeriesWeDo {
		return SensorReading{}, fmt.Errorf("%w: sensor series %q", ErrWrongInput, series)
	}
	if err := s.requireConnected(); err != nil {
		return SensorReading{}, err
	}

	a, b, err := protocol.SensorADCChannels(port)
	if err != nil {
		return SensorReading{}, fmt.Errorf("%w: %v", ErrWrongInput, err)
	}
	raw, err := s.readADC(ctx, "sensor", a, b)
	if err != nil {
		return SensorReading{}, err
	}

	ch0Raw, ch0 := protocol.SensorSample(raw[0])
	ch1Raw, value := protocol.SensorSample(raw[1])
	typ := ClassifySensorType(ch0)

	return SensorReading{
		Port:   port,
		Series: series,
		Type:   typ,
		Ch0Raw: ch0Raw,
		Ch1Raw: ch1Raw,
		Ch0:    ch0,
		Value:  value,
		State:  SensorStateFor(value, typ),
		Time:   time.Now(),
	}, nil
}

// StartSensor starts polling the sensor on port. The first read happens
// before StartSensor returns and its error, if any, is returned; later
// reads run every sensor interval until StopSensor, a read error, or Close.
//
// Calling StartSensor on a port that is already polling only re-arms it.
func (s *SBrick) StartSensor(ctx context.Context, port int) error {
	if err := validPort(port); err != nil {
		return err
	}
	if err := s.requireConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	so := s.sensor(port)
	so.keepAlive = true
	running := so.running
	if !running {
		so.running = true
	}
	s.mu.Unlock()

	s.publish(Event{Kind: EventSensorStart, Port: port})
	if running {
		return nil
	}

	if err := s.pollSensor(ctx, port); err != nil {
		s.sensorEnded(port, err)
		return err
	}

	s.wg.Add(1)
	go s.sensorLoop(port)
	return nil
}

// StopSensor stops polling the sensor on port. A read already in flight or
// scheduled still completes and may publish one more event.
func (s *SBrick) StopSensor(port int) error {
	if err := validPort(port); err != nil {
		return err
	}

	s.mu.Lock()
	s.sensor(port).keepAlive = false
	s.mu.Unlock()

	s.publish(Event{Kind: EventSensorStop, Port: port})
	return nil
}

// SensorRunning reports whether port is being polled.
func (s *SBrick) SensorRunning(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.sensors[port]
	return ok && so.running
}

func (s *SBrick) sensorLoop(port int) {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.sensorInterval)
	defer timer.Stop()

	for {
		s.mu.Lock()
		so := s.sensors[port]
		if !so.keepAlive {
			// Cleared under the same lock StartSensor re-arms with.
			so.running = false
			s.mu.Unlock()
			s.logger.WithField("port", port).Debug("sensor polling stopped")
			return
		}
		s.mu.Unlock()

		select {
		case <-s.ctx.Done():
			s.sensorEnded(port, s.ctx.Err())
			return
		case <-timer.C:
		}

		if err := s.pollSensor(s.ctx, port); err != nil {
			s.sensorEnded(port, err)
			return
		}
		timer.Reset(s.cfg.sensorInterval)
	}
}

func (s *SBrick) sensorEnded(port int, err error) {
	s.mu.Lock()
	s.sensors[port].running = false
	s.mu.Unlock()

	s.logger.WithField("port", port).WithError(err).Debug("sensor polling ended")
}

// pollSensor reads port once and publishes value and state changes.
func (s *SBrick) pollSensor(ctx context.Context, port int) error {
	reading, err := s.GetSensor(ctx, port, SeriesWeDo)
	if err != nil {
		return err
	}

	s.mu.Lock()
	so := s.sensor(port)
	valueChanged := so.lastValue == nil || *so.lastValue != reading.Value
	if valueChanged {
		v := reading.Value
		so.lastValue = &v
	}
	stateChanged := so.lastState != reading.State
	if stateChanged {
		so.lastState = reading.State
	}
	s.mu.Unlock()

	if valueChanged {
		s.metrics.sensorEvents.WithLabelValues(EventSensorValueChange.String()).Inc()
		s.publish(Event{Kind: EventSensorValueChange, Port: port, Reading: reading})
	}
	if stateChanged {
		s.metrics.sensorEvents.WithLabelValues(EventSensorChange.String()).Inc()
		s.publish(Event{Kind: EventSensorChange, Port: port, Reading: reading})
	}
	return nil
}
