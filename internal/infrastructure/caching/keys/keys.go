// Package keys builds and parses the composite counter keys
// {prefix}:{metric}:{scope}[:{date|page}].
package keys

import (
	"fmt"
	"strings"

	"github.com/AtRiskMedia/visitstats/utils"
)

const (
	metricVisitCount = "visit:count"
	metricUniqueIP   = "unique:ip"
	metricPageVisit  = "page:visit"
	metricOnline     = "online:users"
	metricRealtime   = "realtime"

	// RealtimeTodayVisits is the realtime hash field counting today's visits.
	RealtimeTodayVisits = "todayVisits"
)

// Builder renders keys under one prefix.
type Builder struct {
	prefix string
}

// NewBuilder creates a key builder. A trailing colon on prefix is ignored.
func NewBuilder(prefix string) *Builder {
	return &Builder{prefix: strings.TrimSuffix(prefix, ":")}
}

// Prefix returns the configured prefix.
func (b *Builder) Prefix() string { return b.prefix }

func (b *Builder) key(metric string, scope ...string) string {
	var sb strings.Builder
	sb.WriteString(b.prefix)
	sb.WriteByte(':')
	sb.WriteString(metric)
	for _, s := range scope {
		sb.WriteByte(':')
		sb.WriteString(s)
	}
	return sb.String()
}

// VisitCount is the day total counter.
func (b *Builder) VisitCount(dateKey int) string {
	return b.key(metricVisitCount, fmt.Sprint(dateKey))
}

// UniqueIPs is the day's distinct IP set.
func (b *Builder) UniqueIPs(dateKey int) string {
	return b.key(metricUniqueIP, fmt.Sprint(dateKey))
}

// PageVisit is the per-page counter for a day.
func (b *Builder) PageVisit(pageURL string, dateKey int) string {
	return b.key(metricPageVisit, pageURL, fmt.Sprint(dateKey))
}

// Online is the presence marker of one client.
func (b *Builder) Online(ip string) string {
	return b.key(metricOnline, ip)
}

// Realtime is the realtime hash for a day.
func (b *Builder) Realtime(dateKey int) string {
	return b.key(metricRealtime, fmt.Sprint(dateKey))
}

// OnlinePattern matches every presence marker.
func (b *Builder) OnlinePattern() string {
	return b.key(metricOnline, "*")
}

// PageVisitPattern matches every page counter of a day.
func (b *Builder) PageVisitPattern(dateKey int) string {
	return b.key(metricPageVisit, "*", fmt.Sprint(dateKey))
}

// DayScopedPatterns matches every key whose last segment is a date key.
func (b *Builder) DayScopedPatterns() []string {
	return []string{
		b.key(metricVisitCount, "*"),
		b.key(metricUniqueIP, "*"),
		b.key(metricPageVisit, "*"),
		b.key(metricRealtime, "*"),
	}
}

// ParsePageVisit recovers the page URL and date key from a page counter key.
// URLs may themselves contain colons; only the last segment is the date.
func (b *Builder) ParsePageVisit(key string) (string, int, error) {
	head := b.key(metricPageVisit) + ":"
	if !strings.HasPrefix(key, head) {
		return "", 0, fmt.Errorf("not a page visit key: %q", key)
	}
	rest := strings.TrimPrefix(key, head)
	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 {
		return "", 0, fmt.Errorf("page visit key without page or date: %q", key)
	}
	dateKey, err := utils.ParseDateKey(rest[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("page visit key %q: %w", key, err)
	}
	return rest[:idx], dateKey, nil
}

// TrailingDateKey parses the date key in a key's last segment.
func TrailingDateKey(key string) (int, error) {
	idx := strings.LastIndexByte(key, ':')
	if idx < 0 {
		return 0, fmt.Errorf("key has no date segment: %q", key)
	}
	return utils.ParseDateKey(key[idx+1:])
}
