package audio

import (
	"sync"
)

// Accumulator collects validated PCM frames for the current utterance.
// Frames are appended in arrival order; TakeAndReset hands the whole
// utterance to exactly one caller even when the watchdog and the
// receive path race to flush.
type Accumulator struct {
	mu         sync.Mutex
	buf        []byte
	sampleRate int
	format     Format
	appended   int64
}

// NewAccumulator creates an empty Accumulator for audio at the given
// sample rate and format
func NewAccumulator(sampleRate int, format Format) *Accumulator {
	return &Accumulator{
		sampleRate: sampleRate,
		format:     format,
	}
}

// Append adds a validated frame to the current utterance
func (a *Accumulator) Append(frame []byte) {
	if len(frame) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, frame...)
	a.appended += int64(len(frame))
}

// Len returns the buffered byte count
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// DurationSeconds returns the buffered audio length in seconds
func (a *Accumulator) DurationSeconds() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.durationLocked()
}

func (a *Accumulator) durationLocked() float64 {
	if a.sampleRate <= 0 {
		return 0
	}
	samples := len(a.buf) / a.format.BytesPerSample()
	return float64(samples) / float64(a.sampleRate)
}

// TakeAndReset atomically removes and returns the buffered utterance.
// It returns nil when the buffer is empty, so concurrent flush attempts
// resolve to a single winner.
func (a *Accumulator) TakeAndReset() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == 0 {
		return nil
	}
	taken := a.buf
	a.buf = nil
	return taken
}

// TotalAppended returns the lifetime byte count across all utterances
func (a *Accumulator) TotalAppended() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appended
}

// SampleRate returns the rate the accumulator was created with
func (a *Accumulator) SampleRate() int {
	return a.sampleRate
}
