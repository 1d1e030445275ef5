// Package stores provides the in-process counter store implementation
package stores

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/gobwas/glob"
)

type valueKind int

const (
	kindString valueKind = iota
	kindSet
	kindHash
)

type entry struct {
	kind      valueKind
	str       string
	set       map[string]struct{}
	hash      map[string]int64
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// CounterStore is an in-memory analytics.CounterStore with Redis-like
// semantics. Expired keys are invisible immediately and reclaimed by
// PurgeExpired.
type CounterStore struct {
	data     map[string]*entry
	patterns map[string]glob.Glob
	now      func() time.Time
	mu       sync.RWMutex
}

var _ analytics.CounterStore = (*CounterStore)(nil)

// NewCounterStore creates an empty in-memory counter store
func NewCounterStore() *CounterStore {
	return &CounterStore{
		data:     make(map[string]*entry),
		patterns: make(map[string]glob.Glob),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Used by tests to move past expiries.
func (cs *CounterStore) SetClock(now func() time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.now = now
}

// live returns the unexpired entry for key. Caller holds mu.
func (cs *CounterStore) live(key string, now time.Time) (*entry, bool) {
	e, ok := cs.data[key]
	if !ok || e.expired(now) {
		return nil, false
	}
	return e, true
}

// writable returns the entry for key, dropping it first if expired. Caller holds the write lock.
func (cs *CounterStore) writable(key string, now time.Time) (*entry, bool) {
	e, ok := cs.data[key]
	if ok && e.expired(now) {
		delete(cs.data, key)
		return nil, false
	}
	return e, ok
}

func (cs *CounterStore) Increment(ctx context.Context, key string) (int64, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	e, ok := cs.writable(key, cs.now())
	if !ok {
		cs.data[key] = &entry{kind: kindString, str: "1"}
		return 1, nil
	}
	if e.kind != kindString {
		return 0, fmt.Errorf("increment %s: %w", key, analytics.ErrWrongType)
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("increment %s: value is not an integer", key)
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (cs *CounterStore) HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	e, ok := cs.writable(key, cs.now())
	if !ok {
		e = &entry{kind: kindHash, hash: make(map[string]int64)}
		cs.data[key] = e
	}
	if e.kind != kindHash {
		return 0, fmt.Errorf("hincrby %s: %w", key, analytics.ErrWrongType)
	}
	e.hash[field] += delta
	return e.hash[field], nil
}

func (cs *CounterStore) HashGet(ctx context.Context, key, field string) (int64, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	e, ok := cs.live(key, cs.now())
	if !ok {
		return 0, analytics.ErrCacheMiss
	}
	if e.kind != kindHash {
		return 0, fmt.Errorf("hget %s: %w", key, analytics.ErrWrongType)
	}
	v, ok := e.hash[field]
	if !ok {
		return 0, analytics.ErrCacheMiss
	}
	return v, nil
}

func (cs *CounterStore) SetAdd(ctx context.Context, key, member string) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	e, ok := cs.writable(key, cs.now())
	if !ok {
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		cs.data[key] = e
	}
	if e.kind != kindSet {
		return false, fmt.Errorf("sadd %s: %w", key, analytics.ErrWrongType)
	}
	if _, exists := e.set[member]; exists {
		return false, nil
	}
	e.set[member] = struct{}{}
	return true, nil
}

func (cs *CounterStore) SetCardinality(ctx context.Context, key string) (int64, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	e, ok := cs.live(key, cs.now())
	if !ok {
		return 0, nil
	}
	if e.kind != kindSet {
		return 0, fmt.Errorf("scard %s: %w", key, analytics.ErrWrongType)
	}
	return int64(len(e.set)), nil
}

func (cs *CounterStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	e := &entry{kind: kindString, str: value}
	if ttl > 0 {
		e.expiresAt = cs.now().Add(ttl)
	}
	cs.data[key] = e
	return nil
}

func (cs *CounterStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.now()
	e, ok := cs.writable(key, now)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		delete(cs.data, key)
		return true, nil
	}
	e.expiresAt = now.Add(ttl)
	return true, nil
}

func (cs *CounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	now := cs.now()
	e, ok := cs.live(key, now)
	if !ok {
		return analytics.TTLMissing, nil
	}
	if e.expiresAt.IsZero() {
		return analytics.TTLPersistent, nil
	}
	return e.expiresAt.Sub(now), nil
}

// KeysMatching walks every key in the store.
func (cs *CounterStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	g, err := cs.compile(pattern)
	if err != nil {
		return nil, err
	}

	cs.mu.RLock()
	defer cs.mu.RUnlock()

	now := cs.now()
	var keys []string
	for key, e := range cs.data {
		if e.expired(now) {
			continue
		}
		if g.Match(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (cs *CounterStore) compile(pattern string) (glob.Glob, error) {
	cs.mu.RLock()
	g, ok := cs.patterns[pattern]
	cs.mu.RUnlock()
	if ok {
		return g, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
	}

	cs.mu.Lock()
	cs.patterns[pattern] = g
	cs.mu.Unlock()
	return g, nil
}

func (cs *CounterStore) GetRaw(ctx context.Context, key string) (string, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	e, ok := cs.live(key, cs.now())
	if !ok {
		return "", analytics.ErrCacheMiss
	}
	if e.kind != kindString {
		return "", fmt.Errorf("get %s: %w", key, analytics.ErrWrongType)
	}
	return e.str, nil
}

func (cs *CounterStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.now()
	var removed int64
	for _, key := range keys {
		if _, ok := cs.writable(key, now); ok {
			delete(cs.data, key)
			removed++
		}
	}
	return removed, nil
}

func (cs *CounterStore) Ping(ctx context.Context) error { return ctx.Err() }

func (cs *CounterStore) Close() error { return nil }

// PurgeExpired drops every expired key and returns how many were removed.
func (cs *CounterStore) PurgeExpired() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.now()
	removed := 0
	for key, e := range cs.data {
		if e.expired(now) {
			delete(cs.data, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored keys, expired or not.
func (cs *CounterStore) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.data)
}
