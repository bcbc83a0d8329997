package sbrick

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	var bus Bus
	var got []string

	bus.Subscribe(func(e Event) { got = append(got, "a:"+e.Kind.String()) })
	unsubscribe := bus.Subscribe(func(e Event) { got = append(got, "b:"+e.Kind.String()) })
	bus.Subscribe(func(e Event) { got = append(got, "c:"+e.Kind.String()) })

	bus.Publish(Event{Kind: EventPortChange})
	assert.Equal(t, []string{"a:port_change", "b:port_change", "c:port_change"}, got)

	got = nil
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Kind: EventSensorStop})
	assert.Equal(t, []string{"a:sensor_stop", "c:sensor_stop"}, got)
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	var bus Bus
	calls := 0
	bus.Subscribe(func(e Event) {
		calls++
		bus.Subscribe(func(Event) {})
	})

	bus.Publish(Event{Kind: EventConnected})
	assert.Equal(t, 1, calls)
}

func TestChannelHelpers(t *testing.T) {
	id, err := ParseChannel("2")
	assert.NoError(t, err)
	assert.Equal(t, Channel2, id)

	id, err = ParseChannel("Bottom-Right")
	assert.NoError(t, err)
	assert.Equal(t, Channel3, id)

	_, err = ParseChannel("5")
	assert.ErrorIs(t, err, ErrWrongInput)

	assert.Equal(t, byte(0x02), Channel2.HexID())
	assert.Equal(t, "ccw", Direction(7).String())
	assert.Equal(t, "cw", Clockwise.String())
	assert.Equal(t, "connected", StateConnected.String())
}
