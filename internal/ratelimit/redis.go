package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// Lua script for atomic fixed-window check-and-increment.
// Counters are keyed by window index so no two processes can both observe
// count < cap and increment past it.
const windowLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current >= limit then
    return {0, current}  -- denied
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("PEXPIRE", key, ttl)
end

return {1, newVal}  -- allowed
`

// RedisFixedWindow is a Limiter whose windows are shared by every process
// using the same Redis. Windows align to wall-clock seconds.
type RedisFixedWindow struct {
	redis  *redis.Client
	script *redis.Script
	caps   map[domain.ChannelType]int
	prefix string
	now    func() time.Time
}

// NewRedisFixedWindow creates a Redis-backed limiter.
func NewRedisFixedWindow(client *redis.Client, caps map[domain.ChannelType]int) *RedisFixedWindow {
	return &RedisFixedWindow{
		redis:  client,
		script: redis.NewScript(windowLuaScript),
		caps:   caps,
		prefix: "ratelimit:whatsapp",
		now:    time.Now,
	}
}

// TryAcquire takes a slot in the current window if one is free.
func (r *RedisFixedWindow) TryAcquire(ctx context.Context, channel domain.ChannelType) (bool, time.Duration, error) {
	limit, ok := r.caps[channel]
	if !ok {
		return false, 0, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	now := r.now()
	idx := now.UnixMilli() / Window.Milliseconds()
	key := fmt.Sprintf("%s:%s:%d", r.prefix, channel, idx)

	result, err := r.script.Run(ctx, r.redis, []string{key}, limit, 2*Window.Milliseconds()).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(result) < 1 {
		return false, 0, fmt.Errorf("rate limit script: unexpected result %v", result)
	}
	if allowed, _ := result[0].(int64); allowed == 1 {
		return true, 0, nil
	}

	boundary := time.UnixMilli((idx + 1) * Window.Milliseconds())
	return false, boundary.Sub(now), nil
}

// Acquire implements Limiter.
func (r *RedisFixedWindow) Acquire(ctx context.Context, channel domain.ChannelType) error {
	return acquireLoop(ctx, func() (bool, time.Duration, error) {
		return r.TryAcquire(ctx, channel)
	})
}
