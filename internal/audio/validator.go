package audio

import (
	"sync"
)

// chunkRecord captures the outcome of validating one frame
type chunkRecord struct {
	valid      bool
	rms        float64
	clipped    bool
	outOfRange bool
}

// StatsSnapshot is a point-in-time view of validation counters,
// shaped for the pong and transcription stats payloads
type StatsSnapshot struct {
	TotalReceived int64   `json:"total_received"`
	TotalValid    int64   `json:"total_valid"`
	TotalBytes    int64   `json:"total_bytes"`
	ValidRatio    float64 `json:"valid_ratio"`
	RecentRMS     float64 `json:"recent_rms"`
	ClippedRatio  float64 `json:"clipped_ratio"`
}

// Validator checks incoming PCM frames for structural integrity and
// tracks signal quality over a rolling window of recent frames.
//
// Structural failures (empty or misaligned frames) reject the frame.
// Quality findings (clipping, out-of-range floats, low energy) never
// reject; they are recorded and surfaced through Snapshot so callers
// can gate on them at utterance level.
type Validator struct {
	format     Format
	clipRatio  float64
	rangeRatio float64

	mu       sync.Mutex
	window   []chunkRecord
	next     int
	count    int
	received int64
	valid    int64
	bytes    int64
}

// NewValidator creates a Validator with a rolling window of windowSize
// frames. clipRatio and rangeRatio are the per-frame fractions above
// which a frame is flagged as clipped or out-of-range.
func NewValidator(format Format, windowSize int, clipRatio, rangeRatio float64) *Validator {
	if windowSize <= 0 {
		windowSize = 10
	}
	return &Validator{
		format:     format,
		clipRatio:  clipRatio,
		rangeRatio: rangeRatio,
		window:     make([]chunkRecord, windowSize),
	}
}

// Validate checks one frame and records its quality. It returns true
// when the frame may enter the accumulator. All-zero frames are valid:
// silence is a signal, not an error.
func (v *Validator) Validate(frame []byte) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.received++

	if len(frame) == 0 || len(frame)%v.format.BytesPerSample() != 0 {
		v.record(chunkRecord{valid: false})
		return false
	}

	samples, err := DecodeSamples(frame, v.format)
	if err != nil {
		v.record(chunkRecord{valid: false})
		return false
	}

	a := Analyze(samples, v.format)
	rec := chunkRecord{valid: true, rms: a.RMS}
	n := float64(a.Samples)
	if n > 0 {
		rec.clipped = float64(a.Clipped)/n > v.clipRatio
		rec.outOfRange = float64(a.OutOfRange)/n > v.rangeRatio
	}
	v.record(rec)

	v.valid++
	v.bytes += int64(len(frame))
	return true
}

func (v *Validator) record(rec chunkRecord) {
	v.window[v.next] = rec
	v.next = (v.next + 1) % len(v.window)
	if v.count < len(v.window) {
		v.count++
	}
}

// Snapshot returns current counters and windowed quality measures
func (v *Validator) Snapshot() StatsSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := StatsSnapshot{
		TotalReceived: v.received,
		TotalValid:    v.valid,
		TotalBytes:    v.bytes,
	}
	if v.count == 0 {
		return snap
	}

	validInWindow := 0
	flagged := 0
	var rmsSum float64
	for i := 0; i < v.count; i++ {
		rec := v.window[i]
		if rec.valid {
			validInWindow++
			rmsSum += rec.rms
		}
		if rec.clipped || rec.outOfRange {
			flagged++
		}
	}

	snap.ValidRatio = float64(validInWindow) / float64(v.count)
	snap.ClippedRatio = float64(flagged) / float64(v.count)
	if validInWindow > 0 {
		snap.RecentRMS = rmsSum / float64(validInWindow)
	}
	return snap
}

// Reset clears the rolling window but keeps lifetime totals
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next = 0
	v.count = 0
}
