// Package store persists conversation turns so downstream services
// can rebuild a session's history.
package store

import (
	"context"
	"time"
)

// Turn is one side of a conversation exchange
type Turn struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnStore records turns and serves session history. Append is best
// effort and must never block the audio path.
type TurnStore interface {
	Append(turn Turn)
	History(ctx context.Context, sessionID string) ([]Turn, error)
	Ping(ctx context.Context) error
	Close() error
}

// NoopStore is used when persistence is disabled
type NoopStore struct{}

func (NoopStore) Append(Turn) {}

func (NoopStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	return nil, nil
}

func (NoopStore) Ping(ctx context.Context) error { return nil }

func (NoopStore) Close() error { return nil }
