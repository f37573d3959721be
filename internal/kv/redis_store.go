package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "chatctl"
	redisTimeout       = 3 * time.Second
)

// RedisStore keeps values in Redis under a key prefix, without expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(addr, password, prefix string) (*RedisStore, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
	}, nil
}

// Load reads key; a missing key yields ok=false.
func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Save overwrites key.
func (s *RedisStore) Save(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}
