package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "appforge:collection:"

// RedisStore is a Collection backed by one Redis string per collection.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

var _ Collection = (*RedisStore)(nil)

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "store").Str("driver", "redis").Logger(),
	}
}

// OpenRedis parses url, connects and verifies the connection.
func OpenRedis(ctx context.Context, url string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	s := NewRedis(client, logger)
	s.logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("store initialized")
	return s, nil
}

func (r *RedisStore) key(name string) string { return redisKeyPrefix + name }

// Load implements Collection.
func (r *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %q: %w", name, err)
	}
	return data, nil
}

// Save implements Collection.
func (r *RedisStore) Save(ctx context.Context, name string, data []byte) error {
	if err := r.client.Set(ctx, r.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save collection %q: %w", name, err)
	}
	return nil
}

// Ping implements Collection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Collection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
