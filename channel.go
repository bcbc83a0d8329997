package sbrick

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
)

// ChannelID identifies one of the four output channels.
type ChannelID int

const (
	Channel0 ChannelID = iota // Top-left
	Channel1                  // Bottom-left
	Channel2                  // Top-right
	Channel3                  // Bottom-right
)

// AllChannels lists every channel in wire order.
var AllChannels = []ChannelID{Channel0, Channel1, Channel2, Channel3}

// Valid reports whether c names an existing channel.
func (c ChannelID) Valid() bool {
	return c >= Channel0 && c <= Channel3
}

// HexID returns the id sent on the wire.
func (c ChannelID) HexID() byte {
	return protocol.ChannelHexIDs[c]
}

func (c ChannelID) String() string {
	switch c {
	case Channel0:
		return "top-left"
	case Channel1:
		return "bottom-left"
	case Channel2:
		return "top-right"
	case Channel3:
		return "bottom-right"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ParseChannel parses a channel number 0-3 or a position name such as
// "top-left".
func ParseChannel(s string) (ChannelID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllChannels {
		if s == c.String() {
			return c, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || !ChannelID(n).Valid() {
		return 0, fmt.Errorf("%w: channel %q", ErrWrongInput, s)
	}
	return ChannelID(n), nil
}

// Direction is the rotation direction of a channel.
type Direction byte

const (
	Clockwise        Direction = Direction(protocol.DirClockwise)
	CounterClockwise Direction = Direction(protocol.DirCounterClockwise)
)

// normalize maps any non-zero direction to CounterClockwise.
func (d Direction) normalize() Direction {
	if d == Clockwise {
		return Clockwise
	}
	return CounterClockwise
}

func (d Direction) String() string {
	if d.normalize() == Clockwise {
		return "cw"
	}
	return "ccw"
}

// Channel is a snapshot of one output channel.
type Channel struct {
	ID        ChannelID
	Power     int // 0-255
	Direction Direction
	Busy      bool // A write for this channel is pending
}

// DriveCommand sets the power and direction of one channel.
type DriveCommand struct {
	Channel   ChannelID
	Direction Direction
	Power     int
}

// clampPower takes the magnitude of p and limits it to 0-255.
func clampPower(p int) int {
	if p < 0 {
		if p < -protocol.MaxPower {
			return protocol.MaxPower
		}
		p = -p
	}
	if p > protocol.MaxPower {
		return protocol.MaxPower
	}
	return p
}
