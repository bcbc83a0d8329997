package sbrick

import (
	"context"
	"time"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
)

// startKeepalive polls the link every keepalive interval. It only detects
// loss; there is no reconnect.
func (s *SBrick) startKeepalive() {
	s.stopKeepalive()

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.kaCancel = cancel
	s.kaDone = done
	s.mu.Unlock()

	go s.keepalive(ctx, done)
}

func (s *SBrick) stopKeepalive() {
	s.mu.Lock()
	cancel, done := s.kaCancel, s.kaDone
	s.kaCancel, s.kaDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *SBrick) keepalive(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.keepaliveInterval)
	defer ticker.Stop()

	heartbeat := protocol.EncodeADCQuery(protocol.ADCTemp)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !s.t.IsConnected() {
			s.connectionLost()
			return
		}
		if s.queue.Len() == 0 {
			// Fire and forget; the result channel is buffered.
			s.queue.Enqueue(s.ctx, "keepalive", func(ctx context.Context) ([]byte, error) {
				return nil, s.write(ctx, protocol.RemoteControlCharUUID, heartbeat)
			})
		}
	}
}

func (s *SBrick) connectionLost() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	for i := range s.channels {
		s.channels[i].Busy = false
	}
	// Handlers below run on the keepalive goroutine and may call Close.
	cancel := s.kaCancel
	s.kaCancel, s.kaDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.logger.WithField("device", s.t.DeviceName()).Warn("Connection lost")
	s.metrics.connectionLost.Inc()
	s.publish(Event{Kind: EventConnectionLost})
}
