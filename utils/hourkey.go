package utils

import (
	"fmt"
	"strconv"
	"time"
)

const (
	dateKeyLayout = "20060102"
	dateLayout    = "2006-01-02"
)

// DateKey returns t as an integer YYYYMMDD in t's own location.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// HourKey returns t as an integer YYYYMMDDHH in t's own location.
func HourKey(t time.Time) int {
	return DateKey(t)*100 + t.Hour()
}

// HourOfDay extracts the hour component of an hour key.
func HourOfDay(hourKey int) int {
	return hourKey % 100
}

// DateOfHour extracts the date key an hour key belongs to.
func DateOfHour(hourKey int) int {
	return hourKey / 100
}

// DateKeyToTime returns midnight of dateKey in loc.
func DateKeyToTime(dateKey int, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateKeyLayout, strconv.Itoa(dateKey), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %d: %w", dateKey, err)
	}
	return t, nil
}

// ParseDateKey parses an eight digit YYYYMMDD string into a date key.
func ParseDateKey(s string) (int, error) {
	if len(s) != len(dateKeyLayout) {
		return 0, fmt.Errorf("invalid date key format: %q", s)
	}
	t, err := time.Parse(dateKeyLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date key format: %q", s)
	}
	return DateKey(t), nil
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDateKey renders a date key as YYYY-MM-DD.
func FormatDateKey(dateKey int) string {
	return fmt.Sprintf("%04d-%02d-%02d", dateKey/10000, (dateKey/100)%100, dateKey%100)
}

// FormatHourKey renders an hour key as "YYYY-MM-DD HH:00".
func FormatHourKey(hourKey int) string {
	return fmt.Sprintf("%s %02d:00", FormatDateKey(DateOfHour(hourKey)), HourOfDay(hourKey))
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddDays shifts a date key by n calendar days.
func AddDays(dateKey int, n int) int {
	t, err := DateKeyToTime(dateKey, time.UTC)
	if err != nil {
		return dateKey
	}
	return DateKey(t.AddDate(0, 0, n))
}

// DateKeysInRange lists every date key from start to end inclusive.
func DateKeysInRange(start, end int) []int {
	if start > end {
		return nil
	}
	var keys []int
	for k := start; k <= end; k = AddDays(k, 1) {
		keys = append(keys, k)
		if len(keys) > 3660 {
			break
		}
	}
	return keys
}
