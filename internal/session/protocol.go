package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/voxgate/audio-gateway/internal/audio"
)

// Control message types carried in JSON text frames. Audio travels in
// binary frames and never as JSON.
const (
	// Client to server
	TypeStartConversation = "start_conversation"
	TypeEndConversation   = "end_conversation"
	TypePing              = "ping"

	// Server to client
	TypeReady         = "ready"
	TypeStatus        = "status"
	TypePong          = "pong"
	TypeTranscription = "transcription"
	TypeError         = "error"
)

// ControlMessage is one client control frame
type ControlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// SessionConfig is the audio contract echoed to the client in the
// ready message. The client must send samples in this format at the
// input rate and will receive agent audio at the output rate.
type SessionConfig struct {
	InputSampleRate   int    `json:"input_sample_rate"`
	OutputSampleRate  int    `json:"output_sample_rate"`
	ResamplingEnabled bool   `json:"resampling_enabled"`
	Format            string `json:"format"` // Float32Array or Int16Array
}

// ReadyMessage confirms start_conversation
type ReadyMessage struct {
	Type   string        `json:"type"`
	Config SessionConfig `json:"config"`
}

// StatusMessage carries session lifecycle notices
type StatusMessage struct {
	Type    string               `json:"type"`
	Message string               `json:"message"`
	Stats   *audio.StatsSnapshot `json:"stats,omitempty"`
}

// PongMessage answers a client ping
type PongMessage struct {
	Type  string              `json:"type"`
	Stats audio.StatsSnapshot `json:"stats"`
}

// TranscriptionMessage reports one finalized utterance
type TranscriptionMessage struct {
	Type         string              `json:"type"`
	Text         string              `json:"text"`
	Timestamp    string              `json:"timestamp"` // RFC3339
	AudioQuality string              `json:"audio_quality"`
	Stats        audio.StatsSnapshot `json:"stats"`
}

// ErrorMessage reports a client-visible problem
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// decodeControl parses a client control frame. Unknown fields are
// rejected so typos surface as errors instead of silently ignored
// options.
func decodeControl(data []byte) (*ControlMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ControlMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("control message missing type")
	}
	return &msg, nil
}
