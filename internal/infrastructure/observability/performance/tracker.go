// Package performance tracks latency distributions for pipeline operations.
package performance

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/DataDog/sketches-go/ddsketch"
)

// Operation names recorded by the pipeline.
const (
	OpCacheWrite    = "ingest:cache_write"
	OpDurableWrite  = "ingest:durable_write"
	OpQueryToday    = "query:today"
	OpQueryRange    = "query:range"
	OpQueryHot      = "query:hot_pages"
	OpQueryRealtime = "query:realtime"
	OpReconcile     = "job:reconcile"
	OpRetention     = "job:retention"
)

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	RelativeAccuracy float64       `json:"relativeAccuracy"`
	SlowThreshold    time.Duration `json:"slowThreshold"`
}

// DefaultTrackerConfig returns the default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		RelativeAccuracy: 0.01,
		SlowThreshold:    time.Second,
	}
}

type operationStats struct {
	count  int64
	errors int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

// Tracker aggregates completed markers into per-operation sketches.
type Tracker struct {
	mu      sync.Mutex
	ops     map[string]*operationStats
	config  *TrackerConfig
	logger  *logging.ChanneledLogger
	started time.Time
}

// NewTracker creates a new performance tracker. logger may be nil.
func NewTracker(config *TrackerConfig, logger *logging.ChanneledLogger) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	return &Tracker{
		ops:     make(map[string]*operationStats),
		config:  config,
		logger:  logger,
		started: time.Now(),
	}
}

// StartOperation begins timing an operation. Call Finish on the result.
func (t *Tracker) StartOperation(operation string) *Marker {
	return &Marker{
		Operation: operation,
		StartTime: time.Now(),
		tracker:   t,
	}
}

// Observe records one duration for an operation.
func (t *Tracker) Observe(operation string, d time.Duration, failed bool) {
	if t == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	st, ok := t.ops[operation]
	if !ok {
		st = &operationStats{min: math.MaxFloat64, max: -math.MaxFloat64}
		if sketch, err := ddsketch.NewDefaultDDSketch(t.config.RelativeAccuracy); err == nil {
			st.sketch = sketch
		}
		t.ops[operation] = st
	}
	st.count++
	if failed {
		st.errors++
	}
	st.sum += ms
	if ms < st.min {
		st.min = ms
	}
	if ms > st.max {
		st.max = ms
	}
	if st.sketch != nil {
		st.sketch.Add(ms)
	}
	t.mu.Unlock()

	if t.logger != nil && t.config.SlowThreshold > 0 && d > t.config.SlowThreshold {
		t.logger.Perf().Warn("Slow operation",
			"operation", operation,
			"duration", d,
			"threshold", t.config.SlowThreshold)
	}
}

// OperationSnapshot summarizes one operation's latencies in milliseconds.
type OperationSnapshot struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Errors    int64   `json:"errors"`
	AvgMs     float64 `json:"avgMs"`
	MinMs     float64 `json:"minMs"`
	MaxMs     float64 `json:"maxMs"`
	P50Ms     float64 `json:"p50Ms"`
	P95Ms     float64 `json:"p95Ms"`
	P99Ms     float64 `json:"p99Ms"`
}

// Snapshot is the tracker state at a point in time.
type Snapshot struct {
	Uptime     string              `json:"uptime"`
	Operations []OperationSnapshot `json:"operations"`
}

// Snapshot returns the current per-operation summaries sorted by name.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{Operations: []OperationSnapshot{}}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := Snapshot{
		Uptime:     time.Since(t.started).Round(time.Second).String(),
		Operations: make([]OperationSnapshot, 0, len(t.ops)),
	}
	for name, st := range t.ops {
		snap := OperationSnapshot{
			Operation: name,
			Count:     st.count,
			Errors:    st.errors,
		}
		if st.count > 0 {
			snap.AvgMs = st.sum / float64(st.count)
			snap.MinMs = st.min
			snap.MaxMs = st.max
		}
		if st.sketch != nil && st.count > 0 {
			snap.P50Ms, _ = st.sketch.GetValueAtQuantile(0.50)
			snap.P95Ms, _ = st.sketch.GetValueAtQuantile(0.95)
			snap.P99Ms, _ = st.sketch.GetValueAtQuantile(0.99)
		}
		out.Operations = append(out.Operations, snap)
	}
	sort.Slice(out.Operations, func(i, j int) bool {
		return out.Operations[i].Operation < out.Operations[j].Operation
	})
	return out
}

// Reset drops every recorded operation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.ops = make(map[string]*operationStats)
	t.started = time.Now()
	t.mu.Unlock()
}
