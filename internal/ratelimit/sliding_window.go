package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"
)

// keyTTLSlack is added to the window for the Redis key expiry so abandoned
// per-user keys clean themselves up.
const keyTTLSlack = 10 * time.Second

// slidingWindowScript prunes, counts, inserts and sets the expiry in one step.
//
// KEYS[1] = window key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = limit
// ARGV[4] = unique member for this request
// ARGV[5] = key ttl (s)
//
// Returns {allowed, remaining, reset_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local current = redis.call('ZCARD', key)
if current >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset_ms = 0
    if oldest[2] then
        reset_ms = tonumber(oldest[2]) + window - now
    end
    return {0, 0, reset_ms}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('EXPIRE', key, tonumber(ARGV[5]))

return {1, limit - current - 1, window}
`)

// SlidingWindowLimiter keeps each user's window in a Redis sorted set scored
// by request time.
type SlidingWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
	clock  clock.PassiveClock
}

func NewSlidingWindowLimiter(redis *storage.RedisClient, limit int, window time.Duration, clk clock.PassiveClock) *SlidingWindowLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SlidingWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
		clock:  clk,
	}
}

func (s *SlidingWindowLimiter) Check(ctx context.Context, key string) (Decision, error) {
	now := s.clock.Now()
	ttl := int64((s.window + keyTTLSlack) / time.Second)

	vals, err := s.redis.RunScript(ctx, slidingWindowScript,
		[]string{windowKey(key)},
		now.UnixMilli(),
		s.window.Milliseconds(),
		s.limit,
		uuid.NewString(),
		ttl,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrCoordinationUnavailable, err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrCoordinationUnavailable, vals)
	}

	if vals[0] == 0 {
		return denyDecision(s.limit, time.Duration(vals[2])*time.Millisecond, now), nil
	}
	return allowDecision(s.limit, int(vals[1]), s.window, now), nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}

// windowKey hash-tags the user id so the key stays on one cluster slot.
func windowKey(key string) string {
	return fmt.Sprintf("ratelimit:chat:{%s}", key)
}
