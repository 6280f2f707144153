package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisKV is the slice of the redis client the source needs
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSource keeps artifacts as plain string values under <prefix><name>
type RedisSource struct {
	client redisKV
	prefix string
}

func NewRedisSource(client *redis.Client, prefix string) *RedisSource {
	return &RedisSource{client: client, prefix: prefix}
}

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Key(name string) string {
	return s.prefix + name
}

func (s *RedisSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.Key(name)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: redis key %s", ErrNotFound, s.Key(name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from redis: %w", s.Key(name), err)
	}
	return data, nil
}

// Store writes an artifact, replacing any previous value
func (s *RedisSource) Store(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, s.Key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", s.Key(name), err)
	}
	return nil
}
