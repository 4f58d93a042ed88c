package stt

import (
	"context"
)

// Result carries the transcription of one finalized utterance
type Result struct {
	// Text is the transcribed text, empty when the service heard
	// nothing intelligible
	Text string

	// Confidence is the service's confidence (0.0 to 1.0) when
	// available
	Confidence float64

	// Duration is the seconds of audio the service attributed to the
	// transcript
	Duration float64
}

// Transcriber turns one finalized utterance into text. Audio arrives
// as 16-bit little-endian PCM at the given sample rate.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm16 []byte, sampleRate int) (*Result, error)

	// Close releases client resources
	Close() error
}
