// Package redisstore implements the counter store on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// Store is an analytics.CounterStore backed by a Redis client.
type Store struct {
	client *redis.Client
	logger *logging.ChanneledLogger
}

var _ analytics.CounterStore = (*Store)(nil)

// New connects to the Redis instance described by url (redis://...) and pings it.
func New(ctx context.Context, url string, logger *logging.ChanneledLogger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	start := time.Now()
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		logger.Cache().Error("Redis ping failed", "error", err.Error(), "addr", opts.Addr)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Cache().Info("Redis connection established", "addr", opts.Addr, "db", opts.DB, "duration", time.Since(start))
	return &Store{client: client, logger: logger}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, logger *logging.ChanneledLogger) *Store {
	return &Store{client: client, logger: logger}
}

func wrap(op, key string, err error) error {
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("%s %s: %w", op, key, analytics.ErrWrongType)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrap("incr", key, err)
	}
	return n, nil
}

func (s *Store) HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, wrap("hincrby", key, err)
	}
	return n, nil
}

func (s *Store) HashGet(ctx context.Context, key, field string) (int64, error) {
	n, err := s.client.HGet(ctx, key, field).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, analytics.ErrCacheMiss
	}
	if err != nil {
		return 0, wrap("hget", key, err)
	}
	return n, nil
}

func (s *Store) SetAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, wrap("sadd", key, err)
	}
	return n > 0, nil
}

func (s *Store) SetCardinality(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("scard", key, err)
	}
	return n, nil
}

func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrap("set", key, err)
	}
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrap("expire", key, err)
	}
	return ok, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrap("ttl", key, err)
	}
	return ttl, nil
}

// KeysMatching iterates the keyspace with SCAN rather than KEYS so a large
// keyspace does not block the server, but the cost is still linear.
func (s *Store) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	seen := make(map[string]struct{})
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, wrap("scan", pattern, err)
		}
		for _, k := range batch {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *Store) GetRaw(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", analytics.ErrCacheMiss
	}
	if err != nil {
		return "", wrap("get", key, err)
	}
	return val, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, wrap("del", strings.Join(keys, ","), err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	s.logger.Cache().Info("Closing redis connection")
	return s.client.Close()
}
