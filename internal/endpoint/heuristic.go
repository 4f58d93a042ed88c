package endpoint

import (
	"sync"
	"time"
)

// Heuristic endpoints on frame arrival time alone: clients run their
// own voice detection and stop sending when the speaker stops, so a
// gap in frames is the end-of-utterance signal. Two consecutive stale
// polls are required so one delayed watchdog tick cannot cut an
// utterance short.
type Heuristic struct {
	silence  time.Duration
	debounce int

	mu           sync.Mutex
	lastActivity time.Time
	fed          bool
	strikes      int
}

// NewHeuristic creates a Heuristic endpointer
func NewHeuristic(opts Options) *Heuristic {
	return &Heuristic{
		silence:  opts.SilenceTimeout,
		debounce: opts.debounce(),
	}
}

// Feed marks frame arrival. Content is ignored; arrival is activity.
func (h *Heuristic) Feed(samples []float64, now time.Time) Decision {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fed = true
	h.lastActivity = now
	h.strikes = 0
	return Continue
}

// Poll reports SilenceTimeout after the frame gap has exceeded the
// silence window on debounce consecutive polls. It never fires before
// the first frame of an utterance.
func (h *Heuristic) Poll(now time.Time) Decision {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.fed {
		return Continue
	}
	if now.Sub(h.lastActivity) <= h.silence {
		h.strikes = 0
		return Continue
	}

	h.strikes++
	if h.strikes < h.debounce {
		return Continue
	}
	h.strikes = 0
	return SilenceTimeout
}

// SpeechActive reports whether frames arrived within the silence window
func (h *Heuristic) SpeechActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fed && time.Since(h.lastActivity) <= h.silence
}

// TakeVoiced always defers to the caller's accumulator
func (h *Heuristic) TakeVoiced() ([]float64, bool) {
	return nil, false
}

// Reset clears utterance state
func (h *Heuristic) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fed = false
	h.strikes = 0
	h.lastActivity = time.Time{}
}

// Close is a no-op for the heuristic endpointer
func (h *Heuristic) Close() error {
	return nil
}
