// Package analytics defines the visit pipeline's entities, value objects and
// the contracts of its two stores.
package analytics

import (
	"errors"
	"time"
)

var (
	// ErrInvalidInput marks a visit rejected before any store write.
	ErrInvalidInput = errors.New("invalid visit input")
	// ErrCacheMiss is returned by CounterStore reads when the key does not exist.
	ErrCacheMiss = errors.New("cache miss")
	// ErrWrongType is returned when a key holds a value of another kind.
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")
)

// UnknownIP stands in for a visit whose client address could not be determined.
const UnknownIP = "unknown"

// VisitInput is what a caller supplies for one page view.
type VisitInput struct {
	PageURL   string `json:"pageUrl"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
	Referer   string `json:"referer"`
}

// VisitEvent is one stamped page view. DateKey and HourKey are derived from VisitTime.
type VisitEvent struct {
	ID        string    `json:"id"`
	PageURL   string    `json:"pageUrl"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	Referer   string    `json:"referer"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
	Device    string    `json:"device"`
	Region    string    `json:"region"`
	VisitTime time.Time `json:"visitTime"`
	DateKey   int       `json:"dateKey"`
	HourKey   int       `json:"hourKey"`
}

// ClientInfo is the user agent and network classification attached to an event.
type ClientInfo struct {
	Browser string
	OS      string
	Device  string
	Region  string
}

// DailyAggregate is the durable per-day row written by reconciliation.
type DailyAggregate struct {
	DateKey            int     `json:"dateKey"`
	DateStr            string  `json:"dateStr"`
	TotalVisits        int64   `json:"totalVisits"`
	UniqueIPs          int64   `json:"uniqueIps"`
	PageViews          int64   `json:"pageViews"`
	BounceRate         float64 `json:"bounceRate"`
	AvgSessionDuration int64   `json:"avgSessionDuration"`
}

// HourlyAggregate is the durable per-hour row written by reconciliation.
type HourlyAggregate struct {
	HourKey       int    `json:"hourKey"`
	HourStr       string `json:"hourStr"`
	VisitCount    int64  `json:"visitCount"`
	UniqueIPCount int64  `json:"uniqueIpCount"`
}

// PageAggregate is the durable per-page, per-day row written by reconciliation.
type PageAggregate struct {
	PageURL       string `json:"pageUrl"`
	PageTitle     string `json:"pageTitle"`
	DateKey       int    `json:"dateKey"`
	VisitCount    int64  `json:"visitCount"`
	UniqueIPCount int64  `json:"uniqueIpCount"`
	AvgDuration   int64  `json:"avgDuration"`
	BounceCount   int64  `json:"bounceCount"`
}

// DayTotals is a group-by row over one date key.
type DayTotals struct {
	DateKey     int   `json:"dateKey"`
	TotalVisits int64 `json:"totalVisits"`
	UniqueIPs   int64 `json:"uniqueIps"`
}

// HourTotals is a group-by row over one hour key.
type HourTotals struct {
	HourKey     int   `json:"hourKey"`
	TotalVisits int64 `json:"totalVisits"`
	UniqueIPs   int64 `json:"uniqueIps"`
}

// PageCount is a group-by row over one page URL.
type PageCount struct {
	PageURL    string `json:"pageUrl"`
	VisitCount int64  `json:"visitCount"`
	UniqueIPs  int64  `json:"uniqueIps"`
}

// PageDay is one day of a single page's history.
type PageDay struct {
	DateKey    int   `json:"dateKey"`
	VisitCount int64 `json:"visitCount"`
	UniqueIPs  int64 `json:"uniqueIps"`
}

// BreakdownItem is one bucket of a browser/OS/referer/region breakdown.
type BreakdownItem struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}
