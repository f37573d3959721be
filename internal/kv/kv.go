// Package kv provides the string-keyed persistence used for client state.
package kv

import (
	"context"
	"fmt"
	"strings"
)

// Store loads and saves opaque values by key.
type Store interface {
	// Load returns ok=false when key has never been saved.
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)
	Save(ctx context.Context, key string, value []byte) error
}

// Backend is a Store that owns resources.
type Backend interface {
	Store
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	DatabaseURL   string
}

// Open builds the configured backend. An empty backend name means file.
func Open(cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendFile:
		return NewFileStore(cfg.Path)
	case BackendBolt:
		return NewBoltStore(cfg.Path)
	case BackendRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
	case BackendPostgres:
		return NewGormStore(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
