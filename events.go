package sbrick

import (
	"sync"
	"time"
)

// EventKind identifies a driver event.
type EventKind int

const (
	EventPortChange EventKind = iota
	EventSensorChange
	EventSensorValueChange
	EventSensorStart
	EventSensorStop
	EventConnected
	EventDisconnected
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventPortChange:
		return "port_change"
	case EventSensorChange:
		return "sensor_change"
	case EventSensorValueChange:
		return "sensor_value_change"
	case EventSensorStart:
		return "sensor_start"
	case EventSensorStop:
		return "sensor_stop"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Which fields are set depends on Kind:
// Channel for port changes, Reading for sensor changes and Port for sensor
// start and stop.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Device  string
	Channel Channel
	Reading SensorReading
	Port    int
}

// Handler receives events.
type Handler func(Event)

type subscriber struct {
	id int
	h  Handler
}

// Bus fans events out to subscribers in subscription order. Handlers run
// on the publishing goroutine, outside any driver lock.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(e)
	}
}
