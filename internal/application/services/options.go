// Package services orchestrates the visit pipeline: ingestion, queries,
// reconciliation, retention and reporting.
package services

import (
	"time"

	"github.com/AtRiskMedia/visitstats/utils"
)

// Option customizes a service's clock and calendar.
type Option func(*clock)

type clock struct {
	now func() time.Time
	loc *time.Location
}

func newClock(opts []Option) clock {
	c := clock{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *clock) { c.now = now }
}

// WithLocation sets the zone that decides where a day starts.
func WithLocation(loc *time.Location) Option {
	return func(c *clock) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func (c clock) Now() time.Time { return c.now().In(c.loc) }

func (c clock) Today() int { return utils.DateKey(c.Now()) }

// windowStart returns the first date key of a window of days ending today.
func (c clock) windowStart(days int) int {
	if days < 1 {
		days = 1
	}
	return utils.AddDays(c.Today(), -(days - 1))
}
