package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/voxgate/audio-gateway/internal/config"
)

func testStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(&config.Config{
		RedisAddr:     mr.Addr(),
		TurnTTLH:      24,
		TurnQueueSize: 16,
	})
	return s, mr
}

func waitForTurns(t *testing.T, s *RedisStore, sessionID string, want int) []Turn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		turns, err := s.History(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(turns) >= want {
			return turns
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d turns before deadline", want)
	return nil
}

func TestRedisStore_AppendAndHistory(t *testing.T) {
	s, _ := testStore(t)
	defer s.Close()

	s.Append(Turn{SessionID: "s-1", Role: "user", Text: "hello", Timestamp: time.Now()})
	s.Append(Turn{SessionID: "s-1", Role: "assistant", Text: "hi there", Timestamp: time.Now()})

	turns := waitForTurns(t, s, "s-1", 2)
	if turns[0].Role != "user" || turns[0].Text != "hello" {
		t.Errorf("Expected user turn first, got %+v", turns[0])
	}
	if turns[1].Role != "assistant" || turns[1].Text != "hi there" {
		t.Errorf("Expected assistant turn second, got %+v", turns[1])
	}
}

func TestRedisStore_SessionsAreIsolated(t *testing.T) {
	s, _ := testStore(t)
	defer s.Close()

	s.Append(Turn{SessionID: "s-1", Role: "user", Text: "one"})
	s.Append(Turn{SessionID: "s-2", Role: "user", Text: "two"})

	turns := waitForTurns(t, s, "s-2", 1)
	if len(turns) != 1 || turns[0].Text != "two" {
		t.Errorf("Expected only s-2 turns, got %+v", turns)
	}
}

func TestRedisStore_TTLSet(t *testing.T) {
	s, mr := testStore(t)
	defer s.Close()

	s.Append(Turn{SessionID: "s-1", Role: "user", Text: "hello"})
	waitForTurns(t, s, "s-1", 1)

	ttl := mr.TTL(turnKey("s-1"))
	if ttl <= 0 || ttl > 24*time.Hour {
		t.Errorf("Expected TTL within 24h, got %v", ttl)
	}
}

func TestRedisStore_HistoryEmpty(t *testing.T) {
	s, _ := testStore(t)
	defer s.Close()

	turns, err := s.History(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("Expected no turns, got %d", len(turns))
	}
}

func TestRedisStore_Ping(t *testing.T) {
	s, mr := testStore(t)
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Expected ping to succeed, got %v", err)
	}

	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Expected ping to fail after Redis is gone")
	}
}

func TestRedisStore_CloseTwice(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// Second close must not panic on the closed queue.
	s.Close()
}

func TestNoopStore(t *testing.T) {
	var s TurnStore = NoopStore{}

	s.Append(Turn{SessionID: "s-1", Text: "hello"})
	turns, err := s.History(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("Expected no turns, got %d", len(turns))
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
