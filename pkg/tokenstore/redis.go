package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "appforge:token:"

// RedisStore keeps tokens in Redis so that every process sharing the
// instance reuses one installation token. Redis expires keys on its own.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("token %q: ttl must be positive", key)
	}
	data, err := json.Marshal(&Token{Key: key, Value: value, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing token %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Token, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading token %q: %w", key, err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding token %q: %w", key, err)
	}
	if tok.IsExpired() {
		return nil, ErrTokenExpired
	}
	return &tok, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

// Cleanup removes entries whose recorded expiry has passed but which Redis
// has not evicted yet.
func (r *RedisStore) Cleanup(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := r.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var tok Token
		if json.Unmarshal(data, &tok) == nil && !tok.IsExpired() {
			continue
		}
		if err := r.client.Del(ctx, k).Err(); err != nil {
			return count, fmt.Errorf("deleting token %q: %w", k, err)
		}
		count++
	}
	return count, iter.Err()
}
