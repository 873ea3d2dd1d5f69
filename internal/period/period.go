// Package period maps wall-clock time onto monthly quota periods.
//
// All calculations are done in UTC so every instance of the service agrees on
// which period a request belongs to, regardless of the host timezone.
package period

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// Period is one calendar month of quota accounting.
type Period struct {
	Year  int
	Month time.Month
}

// For returns the period containing t.
func For(t time.Time) Period {
	utc := t.UTC()
	return Period{Year: utc.Year(), Month: utc.Month()}
}

// Next returns the following period, wrapping December into January.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Start returns the first instant of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// ResetDate is the date the quota for p resets, formatted as YYYY-MM-DD.
func (p Period) ResetDate() string {
	return p.Next().Start().Format(time.DateOnly)
}

func (p Period) String() string {
	return fmt.Sprintf("%d-%02d", p.Year, int(p.Month))
}

// Clock reports the current period from an injectable time source.
type Clock struct {
	clock clock.PassiveClock
}

// NewClock returns a Clock backed by c. A nil c means the real clock.
func NewClock(c clock.PassiveClock) Clock {
	if c == nil {
		c = clock.RealClock{}
	}
	return Clock{clock: c}
}

// Current returns the period for the current time.
func (c Clock) Current() Period {
	return For(c.now())
}

// NextReset returns the first day of the following period.
func (c Clock) NextReset() string {
	return c.Current().ResetDate()
}

func (c Clock) now() time.Time {
	if c.clock == nil {
		return time.Now()
	}
	return c.clock.Now()
}
