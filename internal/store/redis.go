package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voxgate/audio-gateway/internal/config"
	"github.com/voxgate/audio-gateway/internal/observability"
)

// writeTimeout bounds one persistence attempt so a slow Redis cannot
// back the queue up forever
const writeTimeout = 5 * time.Second

// RedisStore appends turns to a per-session Redis list through a
// buffered background writer. When the queue is full the turn is
// dropped and counted; audio handling never waits on Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	queue  chan Turn
	log    zerolog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRedisStore connects to Redis and starts the background writer
func NewRedisStore(cfg *config.Config) *RedisStore {
	s := &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
		ttl:    time.Duration(cfg.TurnTTLH) * time.Hour,
		queue:  make(chan Turn, cfg.TurnQueueSize),
		log:    observability.WithComponent("store"),
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

func turnKey(sessionID string) string {
	return "session:" + sessionID + ":turns"
}

// Append enqueues a turn for persistence without blocking
func (s *RedisStore) Append(turn Turn) {
	select {
	case s.queue <- turn:
	default:
		observability.RecordTurnDropped()
		s.log.Warn().
			Str("session_id", turn.SessionID).
			Msg("Turn queue full, dropping turn")
	}
}

func (s *RedisStore) writer() {
	defer s.wg.Done()
	for turn := range s.queue {
		s.write(turn)
	}
}

func (s *RedisStore) write(turn Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	data, err := json.Marshal(turn)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal turn")
		return
	}

	key := turnKey(turn.SessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().
			Err(err).
			Str("session_id", turn.SessionID).
			Msg("Failed to persist turn")
	}
}

// History returns a session's turns oldest-first
func (s *RedisStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	vals, err := s.client.LRange(ctx, turnKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	turns := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var t Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			s.log.Warn().Err(err).Msg("Skipping undecodable turn")
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Ping checks the Redis connection for readiness probes
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close drains the queue, stops the writer and closes the connection
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
	return s.client.Close()
}
