package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "chatrelay:ratelimit"

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindow caps requests per key inside a fixed time window shared by
// every relay replica through Redis.
type FixedWindow struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewFixedWindow builds a limiter on top of an existing Redis client.
func NewFixedWindow(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*FixedWindow, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FixedWindow{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

// Allow reports whether key is still within quota. Redis failures are
// returned together with false so callers fail closed.
func (l *FixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return count <= int64(l.limit), nil
}
