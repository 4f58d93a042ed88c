package session

import (
	"context"
	"time"

	"github.com/voxgate/audio-gateway/internal/endpoint"
)

// watchdog polls the endpointer on a fixed cadence so silence is
// detected even when the client stops sending frames entirely.
func (s *Session) watchdog(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.WatchdogPoll())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.pollOnce(now)
		}
	}
}

// pollOnce runs one watchdog check. A SilenceTimeout finalizes only a
// non-empty buffer; with nothing accumulated the endpointer is reset
// and the session keeps waiting.
func (s *Session) pollOnce(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReceiving {
		return
	}
	if s.ep.Poll(now) != endpoint.SilenceTimeout {
		return
	}
	if s.acc.Len() == 0 {
		s.ep.Reset()
		return
	}

	s.log.Debug().Float64("buffered_s", s.acc.DurationSeconds()).Msg("Watchdog silence timeout")
	s.finalizeLocked(endpoint.SilenceTimeout)
}
