package endpoint

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streamer45/silero-vad-go/speech"
)

const (
	// windowSamples is the analysis window the silero model expects at
	// 16kHz
	windowSamples = 512

	// lookbackWindows is how many pre-speech windows are prepended to
	// an utterance so the first phoneme is not chopped
	lookbackWindows = 3
)

// vadEvent is a model speech-boundary report for one window
type vadEvent struct {
	start       bool
	end         bool
	startSample int
	endSample   int
}

// inferencer abstracts the VAD model so tests can drive the endpointer
// without ONNX weights
type inferencer interface {
	process(window []float32) (*vadEvent, error)
	reset()
	destroy()
}

// sileroDetector adapts a silero-vad streaming detector to the
// inferencer interface
type sileroDetector struct {
	det *speech.Detector
}

func newSileroDetector(modelPath string, sampleRate int, threshold float32) (*sileroDetector, error) {
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  modelPath,
		SampleRate: sampleRate,
		Threshold:  threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load VAD model: %w", err)
	}
	return &sileroDetector{det: det}, nil
}

func (s *sileroDetector) process(window []float32) (*vadEvent, error) {
	ev, err := s.det.DetectStreamFrame(window)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	return &vadEvent{
		start:       ev.IsStart,
		end:         ev.IsEnd,
		startSample: int(ev.StartSample),
		endSample:   int(ev.EndSample),
	}, nil
}

func (s *sileroDetector) reset() {
	s.det.Reset()
}

func (s *sileroDetector) destroy() {
	s.det.Destroy()
}

// windowRing keeps the most recent analysis windows so an utterance
// can start slightly before the first detected speech. Oldest windows
// are overwritten once the ring is full.
type windowRing struct {
	windows [][]float32
	next    int
	count   int
}

func newWindowRing(capacity int) *windowRing {
	return &windowRing{windows: make([][]float32, capacity)}
}

func (r *windowRing) push(w []float32) {
	cp := make([]float32, len(w))
	copy(cp, w)
	r.windows[r.next] = cp
	r.next = (r.next + 1) % len(r.windows)
	if r.count < len(r.windows) {
		r.count++
	}
}

// drain returns the buffered windows oldest-first and clears the ring
func (r *windowRing) drain() [][]float32 {
	out := make([][]float32, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.windows)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.windows[(start+i)%len(r.windows)])
	}
	r.clear()
	return out
}

func (r *windowRing) clear() {
	r.next = 0
	r.count = 0
	for i := range r.windows {
		r.windows[i] = nil
	}
}

// Neural endpoints with a silero VAD model. Unlike the heuristic it
// reads the audio itself, so a client that streams silence still times
// out, and the utterance it hands back holds only the voiced span plus
// a short pre-roll.
type Neural struct {
	silence  time.Duration
	debounce int
	inf      inferencer
	log      zerolog.Logger

	mu            sync.Mutex
	pending       []float32
	lookback      *windowRing
	voiced        []float64
	speechActive  bool
	fed           bool
	lastFeed      time.Time
	lastSpeechEnd time.Time
	strikes       int
}

// NewNeural creates a Neural endpointer backed by the ONNX model at
// opts.ModelPath. The model expects 16kHz input.
func NewNeural(opts Options) (*Neural, error) {
	inf, err := newSileroDetector(opts.ModelPath, opts.SampleRate, opts.Threshold)
	if err != nil {
		return nil, err
	}
	return newNeural(opts, inf), nil
}

func newNeural(opts Options, inf inferencer) *Neural {
	return &Neural{
		silence:  opts.SilenceTimeout,
		debounce: opts.debounce(),
		inf:      inf,
		log:      opts.Logger,
		lookback: newWindowRing(lookbackWindows),
	}
}

// Feed buffers samples, runs the model over each full analysis window
// and reports SilenceTimeout once detected speech has been over for
// the silence window. Frames that keep arriving do not keep the
// utterance open; only detected speech does.
func (n *Neural) Feed(samples []float64, now time.Time) Decision {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.fed = true
	n.lastFeed = now

	for _, s := range samples {
		n.pending = append(n.pending, float32(s))
	}
	for len(n.pending) >= windowSamples {
		window := make([]float32, windowSamples)
		copy(window, n.pending[:windowSamples])
		n.pending = n.pending[windowSamples:]
		n.processWindow(window, now)
	}

	if n.silenceOver(now) {
		n.strikes = 0
		return SilenceTimeout
	}
	return Continue
}

func (n *Neural) processWindow(window []float32, now time.Time) {
	ev, err := n.inf.process(window)
	if err != nil {
		if strings.Contains(err.Error(), "unexpected speech end") {
			n.inf.reset()
		} else {
			n.log.Warn().Err(err).Msg("VAD inference failed, skipping window")
		}
		return
	}

	if ev != nil && ev.start && !n.speechActive {
		n.speechActive = true
		for _, w := range n.lookback.drain() {
			n.appendVoiced(w)
		}
	}

	if n.speechActive {
		n.appendVoiced(window)
	} else {
		n.lookback.push(window)
	}

	if ev != nil && ev.end && n.speechActive {
		n.speechActive = false
		n.lastSpeechEnd = now
	}
}

func (n *Neural) appendVoiced(window []float32) {
	for _, s := range window {
		n.voiced = append(n.voiced, float64(s))
	}
}

// silenceOver reports whether the voiced utterance is closed by
// silence. While speech is active the reference time is the last
// frame's arrival, so a stalled client still flushes what it said.
func (n *Neural) silenceOver(now time.Time) bool {
	if len(n.voiced) == 0 {
		return false
	}
	ref := n.lastSpeechEnd
	if n.speechActive {
		ref = n.lastFeed
	}
	return now.Sub(ref) > n.silence
}

// Poll applies the same silence rule on the watchdog cadence, with the
// same two-poll debounce as the heuristic
func (n *Neural) Poll(now time.Time) Decision {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.fed || !n.silenceOver(now) {
		n.strikes = 0
		return Continue
	}

	n.strikes++
	if n.strikes < n.debounce {
		return Continue
	}
	n.strikes = 0
	return SilenceTimeout
}

// SpeechActive reports whether the model currently hears speech
func (n *Neural) SpeechActive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.speechActive
}

// TakeVoiced returns the curated voiced samples and clears them
func (n *Neural) TakeVoiced() ([]float64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.voiced) == 0 {
		return nil, false
	}
	taken := n.voiced
	n.voiced = nil
	return taken, true
}

// Reset clears utterance state and the model's stream state
func (n *Neural) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = nil
	n.voiced = nil
	n.lookback.clear()
	n.speechActive = false
	n.fed = false
	n.strikes = 0
	n.lastFeed = time.Time{}
	n.lastSpeechEnd = time.Time{}
	n.inf.reset()
}

// Close releases the ONNX session
func (n *Neural) Close() error {
	n.inf.destroy()
	return nil
}
