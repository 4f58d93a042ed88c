package tts

import (
	"context"
)

// Clip is one rendered piece of assistant speech
type Clip struct {
	// PCM16 is 16-bit little-endian mono PCM
	PCM16 []byte

	// SampleRate is the rate the provider rendered at
	SampleRate int
}

// Renderer turns reply text into speech
type Renderer interface {
	Render(ctx context.Context, text string) (*Clip, error)

	// Close releases client resources
	Close() error
}
