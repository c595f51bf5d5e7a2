package twofactor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one sorted set per user scored by attempt time in unix milliseconds.
// The key expires after the window, so idle users cost nothing.
type RedisStore struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &RedisStore{client: client, window: window, prefix: "2fa:fail:"}
}

func (s *RedisStore) key(userID string) string { return s.prefix + userID }

func (s *RedisStore) Failures(ctx context.Context, userID string, now time.Time) (int, error) {
	key := s.key(userID)
	cutoff := strconv.FormatInt(now.Add(-s.window).UnixMilli(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return int(card.Val()), nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, userID string, now time.Time) error {
	key := s.key(userID)
	cutoff := strconv.FormatInt(now.Add(-s.window).UnixMilli(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}
