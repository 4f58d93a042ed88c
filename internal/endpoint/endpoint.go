// Package endpoint decides when the audio a session has accumulated
// forms a complete utterance.
package endpoint

import (
	"time"

	"github.com/rs/zerolog"
)

// Decision is the outcome of feeding or polling an Endpointer
type Decision int

const (
	// Continue means the utterance is still open
	Continue Decision = iota
	// SilenceTimeout means the speaker went quiet long enough to close
	// the utterance
	SilenceTimeout
	// MaxDuration means the utterance hit the hard length cap
	MaxDuration
	// ExplicitEnd means the client asked for the conversation to end
	ExplicitEnd
)

func (d Decision) String() string {
	switch d {
	case SilenceTimeout:
		return "silence_timeout"
	case MaxDuration:
		return "max_duration"
	case ExplicitEnd:
		return "explicit_end"
	default:
		return "continue"
	}
}

// Endpointer consumes validated frames for one session and reports
// when the current utterance should be finalized. Implementations are
// stateful per session and not shared.
type Endpointer interface {
	// Feed observes one validated frame's samples at arrival time
	Feed(samples []float64, now time.Time) Decision

	// Poll asks for a time-based decision between frames. The
	// watchdog calls it on a fixed cadence.
	Poll(now time.Time) Decision

	// SpeechActive reports whether the endpointer currently considers
	// the speaker active
	SpeechActive() bool

	// TakeVoiced returns endpointer-curated utterance samples and
	// clears them. ok is false when the implementation does not curate
	// audio and the caller should use its own accumulator.
	TakeVoiced() ([]float64, bool)

	// Reset clears per-utterance state after a finalize
	Reset()

	// Close releases any model resources
	Close() error
}

// Options configures an Endpointer. SampleRate, ModelPath, Threshold
// and Logger only apply to the neural implementation.
type Options struct {
	SilenceTimeout time.Duration
	DebouncePolls  int
	SampleRate     int
	ModelPath      string
	Threshold      float32
	Logger         zerolog.Logger
}

func (o Options) debounce() int {
	if o.DebouncePolls <= 0 {
		return 2
	}
	return o.DebouncePolls
}
