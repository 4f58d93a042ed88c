package stt

import (
	"context"
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/voxgate/audio-gateway/internal/config"
)

func testTranscriber() *DeepgramTranscriber {
	return NewDeepgramTranscriber(&config.Config{
		DeepgramAPIKey:             "test-key",
		DeepgramModel:              "nova-2",
		DeepgramLanguage:           "en",
		TranscribeTimeoutS:         5,
		CircuitBreakerMaxFailures:  3,
		CircuitBreakerResetTimeout: 30,
	})
}

func TestTranscribe_EmptyUtterance(t *testing.T) {
	d := testTranscriber()

	if _, err := d.Transcribe(context.Background(), nil, 16000); err == nil {
		t.Error("Expected error for empty utterance")
	}
}

func TestUtteranceCollector_NilMessage(t *testing.T) {
	c := newUtteranceCollector()

	if err := c.Message(nil); err != nil {
		t.Errorf("Expected nil message ignored, got %v", err)
	}
	if c.hasFinals() {
		t.Error("Expected no finals")
	}
}

func TestUtteranceCollector_EmptyAlternativesIgnored(t *testing.T) {
	c := newUtteranceCollector()

	msg := &msginterfaces.MessageResponse{}
	msg.Type = "Results"
	msg.IsFinal = true

	if err := c.Message(msg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c.hasFinals() {
		t.Error("Expected message without alternatives ignored")
	}
}

func TestUtteranceCollector_MetadataSignalsDone(t *testing.T) {
	c := newUtteranceCollector()

	msg := &msginterfaces.MessageResponse{}
	msg.Type = "Metadata"
	c.Message(msg)

	select {
	case <-c.done:
	default:
		t.Fatal("Expected done channel closed after Metadata")
	}

	result, err := c.snapshot()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Text != "" {
		t.Errorf("Expected empty transcript, got %q", result.Text)
	}
}

func TestUtteranceCollector_ErrorRecorded(t *testing.T) {
	c := newUtteranceCollector()

	c.Error(&msginterfaces.ErrorResponse{})

	select {
	case <-c.done:
	default:
		t.Fatal("Expected done channel closed after error")
	}

	if _, err := c.snapshot(); err == nil {
		t.Error("Expected snapshot to surface the stream error")
	}
}

func TestUtteranceCollector_SnapshotJoinsParts(t *testing.T) {
	c := newUtteranceCollector()

	c.mu.Lock()
	c.parts = []string{"hello there", "how are you"}
	c.confSum = 1.8
	c.confCount = 2
	c.duration = 3.5
	c.mu.Unlock()

	result, err := c.snapshot()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Text != "hello there how are you" {
		t.Errorf("Expected joined transcript, got %q", result.Text)
	}
	if result.Confidence != 0.9 {
		t.Errorf("Expected mean confidence 0.9, got %f", result.Confidence)
	}
	if result.Duration != 3.5 {
		t.Errorf("Expected duration 3.5, got %f", result.Duration)
	}
}

func TestUtteranceCollector_FinishOnce(t *testing.T) {
	c := newUtteranceCollector()

	c.finish(nil)
	c.finish(nil) // second finish must not panic on a closed channel

	select {
	case <-c.done:
	default:
		t.Fatal("Expected done channel closed")
	}
}
