package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each session maps to one hash so
// DeleteAll is a single DEL and related keys expire together.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed key-value store from a connection URL
// (redis://host:port/db).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: "verigate:session:",
	}, nil
}

// NewRedisStoreFromClient wraps an existing client (for tests).
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "verigate:session:"}
}

func (s *RedisStore) hashKey(session string) string {
	return s.prefix + session
}

func (s *RedisStore) Get(ctx context.Context, session, key string) (string, error) {
	v, err := s.client.HGet(ctx, s.hashKey(session), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis hget: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, session, key, value string) error {
	if err := s.client.HSet(ctx, s.hashKey(session), key, value).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, session, key string) error {
	if err := s.client.HDel(ctx, s.hashKey(session), key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteAll(ctx context.Context, session string) error {
	if err := s.client.Del(ctx, s.hashKey(session)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
