package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestFor_UsesUTC(t *testing.T) {
	// 23:30 on Jan 31 in UTC-5 is already February in UTC.
	est := time.FixedZone("EST", -5*60*60)
	p := For(time.Date(2026, time.January, 31, 23, 30, 0, 0, est))

	assert.Equal(t, Period{Year: 2026, Month: time.February}, p)
	assert.Equal(t, "2026-02", p.String())
}

func TestResetDate(t *testing.T) {
	tests := []struct {
		name string
		in   Period
		want string
	}{
		{"mid year", Period{Year: 2026, Month: time.June}, "2026-07-01"},
		{"november", Period{Year: 2026, Month: time.November}, "2026-12-01"},
		{"december wraps", Period{Year: 2026, Month: time.December}, "2027-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.ResetDate())
		})
	}
}

func TestClock_FollowsTimeSource(t *testing.T) {
	fake := clocktesting.NewFakePassiveClock(time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC))
	c := NewClock(fake)

	assert.Equal(t, Period{Year: 2026, Month: time.December}, c.Current())
	assert.Equal(t, "2027-01-01", c.NextReset())

	fake.SetTime(time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, Period{Year: 2027, Month: time.January}, c.Current())
	assert.Equal(t, "2027-02-01", c.NextReset())
}

func TestZeroClockUsesWallTime(t *testing.T) {
	var c Clock
	assert.Equal(t, For(time.Now()), c.Current())
}
