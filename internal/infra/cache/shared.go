package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedConfig holds Redis connection configuration for the shared tier.
type SharedConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Shared is the Redis-backed cache tier, preferred when reachable.
type Shared struct {
	rdb *redis.Client
}

// NewShared connects to Redis and verifies the connection.
func NewShared(cfg SharedConfig) (*Shared, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Shared{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (s *Shared) Close() error {
	return s.rdb.Close()
}

// Ping reports whether the tier is currently reachable.
func (s *Shared) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Get returns the value for key. Misses and errors are distinguished so the
// tiered cache can count them separately.
func (s *Shared) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("shared get: %w", err)
	}
	return val, true, nil
}

// Set stores the value with the given TTL.
func (s *Shared) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("shared set: %w", err)
	}
	return nil
}

// Delete removes one key. Idempotent.
func (s *Shared) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// DeletePrefix removes every key with the given prefix using SCAN, so it
// stays safe against large keyspaces.
func (s *Shared) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var dropped int
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return dropped, fmt.Errorf("shared delete %s: %w", iter.Val(), err)
		}
		dropped++
	}
	if err := iter.Err(); err != nil {
		return dropped, fmt.Errorf("shared scan: %w", err)
	}
	return dropped, nil
}
