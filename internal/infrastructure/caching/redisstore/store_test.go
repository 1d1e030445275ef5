package redisstore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := New(context.Background(), "redis://"+mr.Addr(), logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestCountersAndSets(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Increment(ctx, "p:visit:count:20250601"); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	raw, err := store.GetRaw(ctx, "p:visit:count:20250601")
	if err != nil || raw != "3" {
		t.Fatalf("GetRaw = %q, %v", raw, err)
	}

	store.SetAdd(ctx, "p:unique:ip:20250601", "1.1.1.1")
	added, _ := store.SetAdd(ctx, "p:unique:ip:20250601", "1.1.1.1")
	if added {
		t.Error("duplicate member reported as added")
	}
	store.SetAdd(ctx, "p:unique:ip:20250601", "2.2.2.2")
	if n, _ := store.SetCardinality(ctx, "p:unique:ip:20250601"); n != 2 {
		t.Errorf("SetCardinality = %d, want 2", n)
	}

	if n, _ := store.HashIncrement(ctx, "p:realtime:20250601", "todayVisits", 1); n != 1 {
		t.Errorf("HashIncrement = %d, want 1", n)
	}
	if v, err := store.HashGet(ctx, "p:realtime:20250601", "todayVisits"); err != nil || v != 1 {
		t.Errorf("HashGet = %d, %v, want 1", v, err)
	}
	if _, err := store.HashGet(ctx, "p:realtime:20250601", "other"); !errors.Is(err, analytics.ErrCacheMiss) {
		t.Errorf("HashGet missing field error = %v, want ErrCacheMiss", err)
	}
}

func TestMissAndWrongType(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRaw(ctx, "nope"); !errors.Is(err, analytics.ErrCacheMiss) {
		t.Errorf("GetRaw missing error = %v, want ErrCacheMiss", err)
	}

	store.SetAdd(ctx, "set", "a")
	if _, err := store.Increment(ctx, "set"); !errors.Is(err, analytics.ErrWrongType) {
		t.Errorf("Increment on set error = %v, want ErrWrongType", err)
	}
}

func TestTTLAndExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if ttl, _ := store.TTL(ctx, "missing"); ttl != analytics.TTLMissing {
		t.Errorf("TTL missing = %v, want %v", ttl, analytics.TTLMissing)
	}

	store.SetWithTTL(ctx, "p:online:users:1.1.1.1", "1", 2*time.Hour)
	if ttl, _ := store.TTL(ctx, "p:online:users:1.1.1.1"); ttl != 2*time.Hour {
		t.Errorf("TTL = %v, want 2h", ttl)
	}

	store.Increment(ctx, "counter")
	if ttl, _ := store.TTL(ctx, "counter"); ttl != analytics.TTLPersistent {
		t.Errorf("TTL persistent = %v, want %v", ttl, analytics.TTLPersistent)
	}
	if ok, _ := store.Expire(ctx, "counter", time.Minute); !ok {
		t.Error("Expire returned false for existing key")
	}

	mr.FastForward(3 * time.Hour)
	if _, err := store.GetRaw(ctx, "counter"); !errors.Is(err, analytics.ErrCacheMiss) {
		t.Errorf("expired key error = %v, want ErrCacheMiss", err)
	}
}

func TestKeysMatchingAndDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{
		"p:page:visit:/a:20250601",
		"p:page:visit:/b:20250601",
		"p:page:visit:/a:20250531",
	} {
		store.Increment(ctx, k)
	}

	keys, err := store.KeysMatching(ctx, "p:page:visit:*:20250601")
	if err != nil {
		t.Fatalf("KeysMatching: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "p:page:visit:/a:20250601" || keys[1] != "p:page:visit:/b:20250601" {
		t.Errorf("KeysMatching = %v", keys)
	}

	n, err := store.Delete(ctx, keys...)
	if err != nil || n != 2 {
		t.Errorf("Delete = %d, %v, want 2", n, err)
	}
	if n, _ := store.Delete(ctx); n != 0 {
		t.Errorf("Delete with no keys = %d", n)
	}
}
