package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/voxgate/audio-gateway/internal/config"
	"github.com/voxgate/audio-gateway/internal/observability"
)

// cartesiaSampleRate is the PCM rate Cartesia renders at. The session
// resamples to its own output rate before sending to the client.
const cartesiaSampleRate = 24000

// CartesiaRequest is the request payload for Cartesia's TTS API
type CartesiaRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// CartesiaRenderer renders speech through Cartesia's HTTP API, one
// whole clip per reply
type CartesiaRenderer struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewCartesiaRenderer creates a Cartesia client from service config
func NewCartesiaRenderer(cfg *config.Config) *CartesiaRenderer {
	return &CartesiaRenderer{
		apiKey:     cfg.TTSAPIKey,
		apiURL:     "https://api.cartesia.ai/v1/tts",
		voiceID:    cfg.TTSVoiceID,
		modelID:    cfg.TTSModelID,
		httpClient: &http.Client{},
		log:        observability.WithComponent("tts"),
	}
}

// Render synthesizes text and returns the whole clip as 16-bit PCM at
// 24kHz
func (c *CartesiaRenderer) Render(ctx context.Context, text string) (*Clip, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	reqBody := CartesiaRequest{
		Text:            text,
		VoiceID:         c.voiceID,
		ModelID:         c.modelID,
		OutputFormat:    "pcm",
		SampleRate:      cartesiaSampleRate,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cartesia API returned status %d", resp.StatusCode)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio")
	}

	c.log.Debug().
		Int("text_chars", len(text)).
		Int("audio_bytes", len(audioData)).
		Msg("Rendered speech clip")

	return &Clip{PCM16: audioData, SampleRate: cartesiaSampleRate}, nil
}

// Close releases client resources
func (c *CartesiaRenderer) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
