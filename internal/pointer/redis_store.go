package pointer

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps the pointer as a plain string key in Redis, which lets
// several hosts of the same user share one tracker slot.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store for the slot named key.
func NewRedisStore(rdb *redis.Client, key string, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{rdb: rdb, key: "tradewatch:" + key, logger: logger.Named("pointer")}
}

// Save overwrites the key. The pointer carries no TTL: expiry is decided by
// Plan, and an expired pointer still needs reconciliation.
func (s *RedisStore) Save(ctx context.Context, p Pointer) error {
	value, err := p.Encode()
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: save pointer %s: %w", s.key, err)
	}
	s.logger.Debug("Saved pointer", zap.String("key", s.key), zap.String("trade_id", p.TradeID))
	return nil
}

// Load returns the stored pointer or ErrNoPointer.
func (s *RedisStore) Load(ctx context.Context) (Pointer, error) {
	value, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return Pointer{}, ErrNoPointer
	}
	if err != nil {
		return Pointer{}, fmt.Errorf("redis: load pointer %s: %w", s.key, err)
	}

	p, err := Decode(value)
	if err != nil {
		s.logger.Warn("Discarding unreadable pointer", zap.String("key", s.key), zap.Error(err))
		if clearErr := s.Clear(ctx); clearErr != nil {
			return Pointer{}, clearErr
		}
		return Pointer{}, ErrNoPointer
	}
	return p, nil
}

// Clear deletes the key.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis: clear pointer %s: %w", s.key, err)
	}
	return nil
}
