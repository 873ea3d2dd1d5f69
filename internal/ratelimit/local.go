package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"k8s.io/utils/clock"
)

const localShards = 64

// LocalLimiter is the in-process sliding window. It is exact within one
// process and knows nothing about other instances.
type LocalLimiter struct {
	limit  int
	window time.Duration
	clock  clock.PassiveClock
	shards [localShards]localShard
}

// localShard guards the windows of every key hashed onto it.
type localShard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewLocalLimiter(limit int, window time.Duration, clk clock.PassiveClock) *LocalLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	l := &LocalLimiter{
		limit:  limit,
		window: window,
		clock:  clk,
	}
	for i := range l.shards {
		l.shards[i].windows = make(map[string][]time.Time)
	}
	return l
}

func (l *LocalLimiter) Check(_ context.Context, key string) (Decision, error) {
	shard := &l.shards[xxhash.Sum64String(key)%localShards]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := l.clock.Now()
	windowStart := now.Add(-l.window)

	// Timestamps are appended in order, so the live ones are a suffix.
	stamps := shard.windows[key]
	live := 0
	for live < len(stamps) && !stamps[live].After(windowStart) {
		live++
	}
	stamps = stamps[live:]

	if len(stamps) >= l.limit {
		shard.windows[key] = stamps
		return denyDecision(l.limit, stamps[0].Add(l.window).Sub(now), now), nil
	}

	stamps = append(stamps, now)
	shard.windows[key] = stamps
	return allowDecision(l.limit, l.limit-len(stamps), l.window, now), nil
}

// Sweep drops windows with no live requests. Check prunes lazily, so this
// only bounds memory for users that stopped sending requests.
func (l *LocalLimiter) Sweep() int {
	windowStart := l.clock.Now().Add(-l.window)
	removed := 0
	for i := range l.shards {
		shard := &l.shards[i]
		shard.mu.Lock()
		for key, stamps := range shard.windows {
			if len(stamps) == 0 || !stamps[len(stamps)-1].After(windowStart) {
				delete(shard.windows, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (l *LocalLimiter) RunJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (l *LocalLimiter) Limit() int {
	return l.limit
}

func (l *LocalLimiter) Window() time.Duration {
	return l.window
}
