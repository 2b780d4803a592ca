package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(key), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup mark %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int, error) {
	k := s.key(key)
	n, err := s.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("dedup incr %s: %w", key, err)
	}
	if n == 1 {
		s.rdb.Expire(ctx, k, s.ttl)
	}
	return int(n), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("dedup reset %s: %w", key, err)
	}
	return nil
}
