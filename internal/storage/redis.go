package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/rueidis"
)

const defaultRedisPrefix = "authflow:"

// RedisOptions contains configuration for the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStorage keeps keys in Redis under a common prefix.
type RedisStorage struct {
	client rueidis.Client
	prefix string
}

// NewRedisStorage wraps an existing rueidis client.
func NewRedisStorage(client rueidis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}
}

// NewRedisStorageFromOptions dials Redis with simplified options.
func NewRedisStorageFromOptions(opts RedisOptions) (*RedisStorage, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis storage: addr is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStorage(client, opts.Prefix), nil
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Do(ctx, r.client.B().Get().Key(r.prefix+key).Build()).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return value, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	cmd := r.client.B().Set().Key(r.prefix + key).Value(value).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save %s to redis: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	cmd := r.client.B().Set().Key(r.prefix + key).Value(value).Nx().Build()
	err := r.client.Do(ctx, cmd).Error()
	if rueidis.IsRedisNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return true, nil
}

func (r *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.prefix + key
	}
	if err := r.client.Do(ctx, r.client.B().Del().Key(full...).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete keys from redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (r *RedisStorage) Close() error {
	r.client.Close()
	return nil
}
