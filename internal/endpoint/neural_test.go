package endpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeInferencer struct {
	events   []*vadEvent
	errs     []error
	calls    int
	resets   int
	destroys int
}

func (f *fakeInferencer) process(window []float32) (*vadEvent, error) {
	i := f.calls
	f.calls++
	var ev *vadEvent
	var err error
	if i < len(f.events) {
		ev = f.events[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return ev, err
}

func (f *fakeInferencer) reset()   { f.resets++ }
func (f *fakeInferencer) destroy() { f.destroys++ }

func newTestNeural(inf inferencer) *Neural {
	return newNeural(Options{
		SilenceTimeout: 1200 * time.Millisecond,
		Logger:         zerolog.Nop(),
	}, inf)
}

func window(value float64) []float64 {
	samples := make([]float64, windowSamples)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestNeural_WindowAssembly(t *testing.T) {
	inf := &fakeInferencer{}
	n := newTestNeural(inf)

	now := time.Now()
	n.Feed(make([]float64, 300), now)
	if inf.calls != 0 {
		t.Fatalf("Expected no inference below one window, got %d calls", inf.calls)
	}

	n.Feed(make([]float64, 300), now)
	if inf.calls != 1 {
		t.Fatalf("Expected one inference after 600 samples, got %d calls", inf.calls)
	}

	n.Feed(make([]float64, windowSamples*2), now)
	if inf.calls != 3 {
		t.Errorf("Expected remainder carried across frames, got %d calls", inf.calls)
	}
}

func TestNeural_SpeechStartCollectsLookback(t *testing.T) {
	inf := &fakeInferencer{
		events: []*vadEvent{nil, nil, {start: true}},
	}
	n := newTestNeural(inf)

	now := time.Now()
	n.Feed(window(0.1), now)
	n.Feed(window(0.2), now)
	n.Feed(window(0.5), now)

	voiced, ok := n.TakeVoiced()
	if !ok {
		t.Fatal("Expected voiced audio after speech start")
	}
	if len(voiced) != 3*windowSamples {
		t.Fatalf("Expected 2 lookback windows plus the speech window, got %d samples", len(voiced))
	}
	if voiced[0] != 0.1 {
		t.Errorf("Expected oldest lookback window first, got %f", voiced[0])
	}
	if voiced[2*windowSamples] != 0.5 {
		t.Errorf("Expected speech window last, got %f", voiced[2*windowSamples])
	}
}

func TestNeural_LookbackIsBounded(t *testing.T) {
	inf := &fakeInferencer{
		events: []*vadEvent{nil, nil, nil, nil, nil, {start: true}},
	}
	n := newTestNeural(inf)

	now := time.Now()
	for i := 0; i < 6; i++ {
		n.Feed(window(float64(i)), now)
	}

	voiced, ok := n.TakeVoiced()
	if !ok {
		t.Fatal("Expected voiced audio")
	}
	if len(voiced) != (lookbackWindows+1)*windowSamples {
		t.Fatalf("Expected lookback capped at %d windows, got %d samples", lookbackWindows, len(voiced))
	}
	// Oldest surviving lookback window carries value 2.
	if voiced[0] != 2 {
		t.Errorf("Expected oldest kept window value 2, got %f", voiced[0])
	}
}

func TestNeural_FeedFlushesAfterSilence(t *testing.T) {
	inf := &fakeInferencer{
		events: []*vadEvent{{start: true}, {end: true}, nil},
	}
	n := newTestNeural(inf)

	base := time.Now()
	if d := n.Feed(window(0.5), base); d != Continue {
		t.Fatalf("Expected Continue during speech, got %v", d)
	}
	if d := n.Feed(window(0.5), base); d != Continue {
		t.Fatalf("Expected Continue at speech end, got %v", d)
	}

	// Client keeps streaming silence past the timeout.
	if d := n.Feed(window(0), base.Add(1300*time.Millisecond)); d != SilenceTimeout {
		t.Fatalf("Expected SilenceTimeout when silence is streamed, got %v", d)
	}
}

func TestNeural_PollDebounce(t *testing.T) {
	inf := &fakeInferencer{
		events: []*vadEvent{{start: true}, {end: true}},
	}
	n := newTestNeural(inf)

	base := time.Now()
	n.Feed(window(0.5), base)
	n.Feed(window(0.5), base)

	if d := n.Poll(base.Add(1300 * time.Millisecond)); d != Continue {
		t.Fatalf("Expected Continue on first stale poll, got %v", d)
	}
	if d := n.Poll(base.Add(1600 * time.Millisecond)); d != SilenceTimeout {
		t.Fatalf("Expected SilenceTimeout on second stale poll, got %v", d)
	}
}

func TestNeural_PollFlushesStalledSpeech(t *testing.T) {
	inf := &fakeInferencer{
		events: []*vadEvent{{start: true}},
	}
	n := newTestNeural(inf)

	base := time.Now()
	n.Feed(window(0.5), base)
	if !n.SpeechActive() {
		t.Fatal("Expected speech active")
	}

	// No more frames arrive.
	n.Poll(base.Add(1300 * time.Millisecond))
	if d := n.Poll(base.Add(1600 * time.Millisecond)); d != SilenceTimeout {
		t.Fatalf("Expected stalled speech to flush, got %v", d)
	}
}

func TestNeural_NoTimeoutWithoutSpeech(t *testing.T) {
	inf := &fakeInferencer{}
	n := newTestNeural(inf)

	base := time.Now()
	n.Feed(window(0), base)

	if d := n.Poll(base.Add(10 * time.Second)); d != Continue {
		t.Fatalf("Expected Continue with no voiced audio, got %v", d)
	}
	if d := n.Poll(base.Add(20 * time.Second)); d != Continue {
		t.Fatalf("Expected Continue with no voiced audio, got %v", d)
	}
}

func TestNeural_TakeVoicedClears(t *testing.T) {
	inf := &fakeInferencer{
		events: []*vadEvent{{start: true}},
	}
	n := newTestNeural(inf)
	n.Feed(window(0.5), time.Now())

	if _, ok := n.TakeVoiced(); !ok {
		t.Fatal("Expected voiced audio on first take")
	}
	if _, ok := n.TakeVoiced(); ok {
		t.Error("Expected nothing on second take")
	}
}

func TestNeural_UnexpectedSpeechEndResetsDetector(t *testing.T) {
	inf := &fakeInferencer{
		errs: []error{errors.New("unexpected speech end")},
	}
	n := newTestNeural(inf)

	n.Feed(window(0.5), time.Now())

	if inf.resets != 1 {
		t.Errorf("Expected detector reset, got %d resets", inf.resets)
	}
	if _, ok := n.TakeVoiced(); ok {
		t.Error("Expected failed window to be dropped")
	}
}

func TestNeural_OtherInferenceErrorSkipsWindow(t *testing.T) {
	inf := &fakeInferencer{
		errs: []error{errors.New("onnx session failure")},
	}
	n := newTestNeural(inf)

	n.Feed(window(0.5), time.Now())

	if inf.resets != 0 {
		t.Errorf("Expected no reset on generic error, got %d", inf.resets)
	}
	if _, ok := n.TakeVoiced(); ok {
		t.Error("Expected failed window to be dropped")
	}
}

func TestNeural_Reset(t *testing.T) {
	inf := &fakeInferencer{
		events: []*vadEvent{{start: true}},
	}
	n := newTestNeural(inf)

	base := time.Now()
	n.Feed(window(0.5), base)
	n.Reset()

	if inf.resets != 1 {
		t.Errorf("Expected detector stream state reset, got %d", inf.resets)
	}
	if n.SpeechActive() {
		t.Error("Expected inactive after reset")
	}
	if _, ok := n.TakeVoiced(); ok {
		t.Error("Expected no voiced audio after reset")
	}
	if d := n.Poll(base.Add(10 * time.Second)); d != Continue {
		t.Errorf("Expected Continue after reset, got %v", d)
	}
}

func TestNeural_Close(t *testing.T) {
	inf := &fakeInferencer{}
	n := newTestNeural(inf)

	if err := n.Close(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if inf.destroys != 1 {
		t.Errorf("Expected detector destroyed, got %d", inf.destroys)
	}
}

func TestWindowRing(t *testing.T) {
	r := newWindowRing(3)
	for i := 0; i < 4; i++ {
		r.push([]float32{float32(i)})
	}

	drained := r.drain()
	if len(drained) != 3 {
		t.Fatalf("Expected 3 windows, got %d", len(drained))
	}
	for i, w := range drained {
		if w[0] != float32(i+1) {
			t.Errorf("Window %d: expected value %d, got %f", i, i+1, w[0])
		}
	}
	if len(r.drain()) != 0 {
		t.Error("Expected empty ring after drain")
	}
}
