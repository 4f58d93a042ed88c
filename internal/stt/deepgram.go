package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/voxgate/audio-gateway/internal/config"
	"github.com/voxgate/audio-gateway/internal/observability"
	"github.com/voxgate/audio-gateway/internal/resilience"
)

const (
	// writeChunkBytes is the write granularity for pushing utterance
	// audio up the Deepgram socket
	writeChunkBytes = 8192

	// drainWait bounds how long we wait for trailing finals after
	// Finish when the stream-closed signal never arrives
	drainWait = 3 * time.Second
)

// utteranceCollector implements the SDK's message callback for one
// ephemeral transcription stream. It embeds the default handler and
// overrides only Message and Error.
type utteranceCollector struct {
	*websocketv1api.DefaultCallbackHandler

	mu         sync.Mutex
	parts      []string
	confSum    float64
	confCount  int
	duration   float64
	streamErr  error
	done       chan struct{}
	closeOnce  sync.Once
}

func newUtteranceCollector() *utteranceCollector {
	return &utteranceCollector{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		done:                   make(chan struct{}),
	}
}

// Message collects final transcripts. The terminal Metadata message
// marks the stream as drained.
func (c *utteranceCollector) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil {
		return nil
	}

	switch msg.Type {
	case "Results", "Message":
		if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			return nil
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return nil
		}
		c.mu.Lock()
		c.parts = append(c.parts, alt.Transcript)
		if alt.Confidence > 0 {
			c.confSum += alt.Confidence
			c.confCount++
		}
		c.duration += msg.Duration
		c.mu.Unlock()

	case "Metadata":
		c.finish(nil)
	}
	return nil
}

// Error records the stream error and unblocks the waiter
func (c *utteranceCollector) Error(errResp *msginterfaces.ErrorResponse) error {
	c.finish(fmt.Errorf("transcription stream error: %+v", errResp))
	return nil
}

func (c *utteranceCollector) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.streamErr = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *utteranceCollector) snapshot() (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamErr != nil {
		return nil, c.streamErr
	}
	r := &Result{
		Text:     strings.Join(c.parts, " "),
		Duration: c.duration,
	}
	if c.confCount > 0 {
		r.Confidence = c.confSum / float64(c.confCount)
	}
	return r, nil
}

func (c *utteranceCollector) hasFinals() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.parts) > 0
}

// DeepgramTranscriber transcribes utterances over Deepgram's streaming
// API, one short-lived stream per utterance. Utterances are bounded at
// 30 seconds, so a fresh stream per request stays cheap and removes
// the shared-stream reconnect dance.
type DeepgramTranscriber struct {
	apiKey   string
	model    string
	language string
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker
	log      zerolog.Logger
}

// NewDeepgramTranscriber creates a transcriber from service config
func NewDeepgramTranscriber(cfg *config.Config) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		apiKey:   cfg.DeepgramAPIKey,
		model:    cfg.DeepgramModel,
		language: cfg.DeepgramLanguage,
		timeout:  time.Duration(cfg.TranscribeTimeoutS) * time.Second,
		breaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		log: observability.WithComponent("stt"),
	}
}

// Transcribe sends one utterance and returns the joined final
// transcript. An empty Result text means the service heard no words.
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, pcm16 []byte, sampleRate int) (*Result, error) {
	if len(pcm16) == 0 {
		return nil, fmt.Errorf("empty utterance")
	}

	var result *Result
	err := d.breaker.Call(func() error {
		r, err := d.transcribeOnce(ctx, pcm16, sampleRate)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
		return nil, err
	}
	return result, nil
}

func (d *DeepgramTranscriber) transcribeOnce(ctx context.Context, pcm16 []byte, sampleRate int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.model,
		Language:       d.language,
		Punctuate:      true,
		InterimResults: false,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     sampleRate,
	}

	collector := newUtteranceCollector()
	client, err := listenClient.NewWSUsingCallback(ctx, d.apiKey, nil, tOptions, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription stream: %w", err)
	}
	if !client.Connect() {
		return nil, fmt.Errorf("failed to connect to transcription service")
	}
	defer client.Stop()

	start := time.Now()
	for off := 0; off < len(pcm16); off += writeChunkBytes {
		end := off + writeChunkBytes
		if end > len(pcm16) {
			end = len(pcm16)
		}
		if _, err := client.Write(pcm16[off:end]); err != nil {
			return nil, fmt.Errorf("failed to send audio: %w", err)
		}
	}
	client.Finish()

	select {
	case <-collector.done:
	case <-time.After(drainWait):
		d.log.Debug().Msg("Transcription drain window elapsed without stream close")
	case <-ctx.Done():
		if !collector.hasFinals() {
			return nil, fmt.Errorf("transcription timed out: %w", ctx.Err())
		}
	}

	result, err := collector.snapshot()
	if err != nil {
		return nil, err
	}

	d.log.Debug().
		Int("audio_bytes", len(pcm16)).
		Int("sample_rate", sampleRate).
		Float64("confidence", result.Confidence).
		Dur("elapsed", time.Since(start)).
		Msg("Utterance transcribed")
	return result, nil
}

// Close releases transcriber resources. Streams are per-utterance, so
// there is nothing persistent to tear down.
func (d *DeepgramTranscriber) Close() error {
	return nil
}
