package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var errBoom = errors.New("boom")

func fail() error { return errBoom }
func ok() error   { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 2, Timeout: time.Minute})

	assert.ErrorIs(t, cb.Call(fail), errBoom)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Call(fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 2})

	_ = cb.Call(fail)
	require.NoError(t, cb.Call(ok))
	_ = cb.Call(fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Metrics().FailureCount)
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Now())
	var transitions []string
	cb := New(Config{
		MaxFailures: 1,
		Timeout:     30 * time.Second,
		Clock:       fake,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Call(fail)
	require.Equal(t, StateOpen, cb.State())

	fake.Step(10 * time.Second)
	assert.ErrorIs(t, cb.Call(ok), ErrCircuitOpen)

	fake.Step(21 * time.Second)
	require.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "half-open->closed"}, transitions)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Now())
	cb := New(Config{MaxFailures: 1, Timeout: time.Second, Clock: fake})

	_ = cb.Call(fail)
	fake.Step(2 * time.Second)

	assert.ErrorIs(t, cb.Call(fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Call(ok), ErrCircuitOpen)
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Now())
	cb := New(Config{MaxFailures: 1, Timeout: time.Second, Clock: fake})

	_ = cb.Call(fail)
	fake.Step(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Call(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.ErrorIs(t, cb.Call(ok), ErrCircuitOpen)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, cb.State())
}

func TestReset(t *testing.T) {
	var got []State
	cb := New(Config{MaxFailures: 1, OnStateChange: func(_, to State) { got = append(got, to) }})

	_ = cb.Call(fail)
	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateClosed}, got)
	assert.Equal(t, 0, cb.Metrics().FailureCount)
}

func TestIgnoredErrorIsNotCounted(t *testing.T) {
	cb := New(Config{MaxFailures: 1})

	err := cb.Call(func() error { return Ignore(errBoom) })
	assert.Equal(t, errBoom, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Metrics().FailureCount)
	assert.NoError(t, Ignore(nil))
}

func TestIgnoredTrialKeepsCircuitOpen(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Now())
	var transitions []string
	cb := New(Config{
		MaxFailures: 1,
		Timeout:     time.Second,
		Clock:       fake,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Call(fail)
	fake.Step(2 * time.Second)

	assert.ErrorIs(t, cb.Call(func() error { return Ignore(errBoom) }), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// The next call is admitted as a fresh trial without waiting out Timeout.
	require.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "half-open->closed"}, transitions)
}
