package ratelimit

import (
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/storage"
	"k8s.io/utils/clock"
)

// NewLimiter wires the limiter used by the service. A nil redis client means
// no shared store is configured and only the local limiter runs.
func NewLimiter(redis *storage.RedisClient, limit int, window, reprobe time.Duration, clk clock.PassiveClock) (*FailoverLimiter, *LocalLimiter) {
	local := NewLocalLimiter(limit, window, clk)

	var coordinated Limiter
	if redis != nil {
		coordinated = NewSlidingWindowLimiter(redis, limit, window, clk)
	}

	return NewFailoverLimiter(coordinated, local, FailoverConfig{
		ReprobeInterval: reprobe,
		Clock:           clk,
	}), local
}
