package callcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient captures the subset of redis.Client used by the backend.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	FlushDB(ctx context.Context) *redis.StatusCmd
}

type redisBackend struct {
	client RedisClient
	prefix string
}

func newRedisBackend(client RedisClient, prefix string) Backend {
	return &redisBackend{
		client: client,
		prefix: prefix,
	}
}

func (s *redisBackend) Driver() Driver {
	return DriverRedis
}

func (s *redisBackend) Ready(ctx context.Context) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, errRedisUnavailable
	}
	value, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	// Bytes aliases the command's string, so hand the caller its own copy.
	return cloneBytes(value), true, nil
}

func (s *redisBackend) Set(ctx context.Context, key string, value []byte) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	return s.client.Set(ctx, s.cacheKey(key), value, 0).Err()
}

func (s *redisBackend) RPush(ctx context.Context, key string, value []byte) (int64, error) {
	if s.client == nil {
		return 0, errRedisUnavailable
	}
	return s.client.RPush(ctx, s.cacheKey(key), value).Result()
}

func (s *redisBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if s.client == nil {
		return nil, errRedisUnavailable
	}
	values, err := s.client.LRange(ctx, s.cacheKey(key), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, value := range values {
		out = append(out, []byte(value))
	}
	return out, nil
}

func (s *redisBackend) Incr(ctx context.Context, key string) (int64, error) {
	if s.client == nil {
		return 0, errRedisUnavailable
	}
	return s.client.Incr(ctx, s.cacheKey(key)).Result()
}

// Flush drops the whole logical database when no prefix is configured,
// otherwise only the keys under prefix.
func (s *redisBackend) Flush(ctx context.Context) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	if s.prefix == "" {
		return s.client.FlushDB(ctx).Err()
	}
	pattern := s.cacheKey("*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *redisBackend) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

var errRedisUnavailable = fmt.Errorf("redis client: %w", ErrBackendUnavailable)
