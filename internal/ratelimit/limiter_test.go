package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/chat-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

const (
	testLimit  = 10
	testWindow = 60 * time.Second
)

var baseTime = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type limiterFactory func(t *testing.T, clk *clocktesting.FakeClock) Limiter

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *storage.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := storage.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func backends() map[string]limiterFactory {
	return map[string]limiterFactory{
		"redis": func(t *testing.T, clk *clocktesting.FakeClock) Limiter {
			_, client := newTestRedis(t)
			return NewSlidingWindowLimiter(client, testLimit, testWindow, clk)
		},
		"local": func(t *testing.T, clk *clocktesting.FakeClock) Limiter {
			return NewLocalLimiter(testLimit, testWindow, clk)
		},
	}
}

func TestLimiter_TenAllowedEleventhDenied(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			clk := clocktesting.NewFakeClock(baseTime)
			l := factory(t, clk)
			ctx := context.Background()

			for i := 0; i < testLimit; i++ {
				d, err := l.Check(ctx, "7")
				require.NoError(t, err)
				require.True(t, d.Allowed, "request %d", i+1)
				assert.Equal(t, testLimit-i-1, d.Remaining)
				assert.Equal(t, testLimit, d.Limit)
				assert.Equal(t, 60, d.ResetInSeconds())
				clk.Step(100 * time.Millisecond)
			}

			d, err := l.Check(ctx, "7")
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 0, d.Remaining)
			// Oldest entry was recorded 1s ago.
			assert.Equal(t, 59, d.ResetInSeconds())
			assert.Equal(t, clk.Now().Add(59*time.Second), d.ResetAt)
		})
	}
}

func TestLimiter_ResetInDecreasesUntilOldestExpires(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			clk := clocktesting.NewFakeClock(baseTime)
			l := factory(t, clk)
			ctx := context.Background()

			for i := 0; i < testLimit; i++ {
				_, err := l.Check(ctx, "7")
				require.NoError(t, err)
			}

			prev := 1 << 30
			for elapsed := 0; elapsed < 60; elapsed++ {
				d, err := l.Check(ctx, "7")
				require.NoError(t, err)
				require.False(t, d.Allowed, "at +%ds", elapsed)
				assert.GreaterOrEqual(t, d.ResetInSeconds(), 1)
				assert.Less(t, d.ResetInSeconds(), prev)
				prev = d.ResetInSeconds()
				clk.Step(time.Second)
			}

			d, err := l.Check(ctx, "7")
			require.NoError(t, err)
			assert.True(t, d.Allowed, "window should have slid past the burst")
			// Denied checks are not recorded, so the whole window is free again.
			assert.Equal(t, testLimit-1, d.Remaining)
		})
	}
}

func TestLimiter_SubSecondResetRoundsUpToOne(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			clk := clocktesting.NewFakeClock(baseTime)
			l := factory(t, clk)
			ctx := context.Background()

			for i := 0; i < testLimit; i++ {
				_, err := l.Check(ctx, "7")
				require.NoError(t, err)
			}

			clk.Step(testWindow - 300*time.Millisecond)
			d, err := l.Check(ctx, "7")
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 1, d.ResetInSeconds())
		})
	}
}

func TestLimiter_UsersAreIndependent(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			clk := clocktesting.NewFakeClock(baseTime)
			l := factory(t, clk)
			ctx := context.Background()

			for i := 0; i < testLimit; i++ {
				_, err := l.Check(ctx, "1")
				require.NoError(t, err)
			}
			d, err := l.Check(ctx, "1")
			require.NoError(t, err)
			require.False(t, d.Allowed)

			d, err = l.Check(ctx, "2")
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, testLimit-1, d.Remaining)
		})
	}
}

func TestLimiter_ConcurrentChecksAdmitExactlyLimit(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			clk := clocktesting.NewFakeClock(baseTime)
			l := factory(t, clk)
			ctx := context.Background()

			var allowed atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Check(ctx, "7")
					if err == nil && d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.EqualValues(t, testLimit, allowed.Load())
		})
	}
}

func TestSlidingWindow_KeyLayout(t *testing.T) {
	mr, client := newTestRedis(t)
	clk := clocktesting.NewFakeClock(baseTime)
	l := NewSlidingWindowLimiter(client, testLimit, testWindow, clk)

	_, err := l.Check(context.Background(), "42")
	require.NoError(t, err)
	_, err = l.Check(context.Background(), "42")
	require.NoError(t, err)

	key := "ratelimit:chat:{42}"
	require.True(t, mr.Exists(key))
	members, err := mr.ZMembers(key)
	require.NoError(t, err)
	assert.Len(t, members, 2, "same-millisecond requests must not collide")
	assert.Equal(t, testWindow+keyTTLSlack, mr.TTL(key))

	mr.FastForward(testWindow + keyTTLSlack)
	assert.False(t, mr.Exists(key))
}

func TestSlidingWindow_StoreDown(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewSlidingWindowLimiter(client, testLimit, testWindow, nil)
	mr.Close()

	_, err := l.Check(context.Background(), "42")
	assert.ErrorIs(t, err, ErrCoordinationUnavailable)
}

func TestLocal_Sweep(t *testing.T) {
	clk := clocktesting.NewFakeClock(baseTime)
	l := NewLocalLimiter(testLimit, testWindow, clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, fmt.Sprint(i))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, l.Sweep())

	clk.Step(testWindow)
	assert.Equal(t, 5, l.Sweep())

	d, err := l.Check(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, testLimit-1, d.Remaining)
}

func TestLocal_RunJanitorStopsWithContext(t *testing.T) {
	l := NewLocalLimiter(testLimit, testWindow, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
