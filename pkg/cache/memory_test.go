package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type rulesSnapshot struct {
	Rules     []string  `json:"rules"`
	FetchedAt time.Time `json:"fetched_at"`
}

func TestMemoryCacheStructRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := mc.Set(ctx, "calendar:rules:HK", rulesSnapshot{Rules: []string{"a", "b"}, FetchedAt: at}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got rulesSnapshot
	if err := mc.Get(ctx, "calendar:rules:HK", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Rules) != 2 || !got.FetchedAt.Equal(at) {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	var s string
	_ = mc.Set(ctx, "plain", "value", 0)
	if err := mc.Get(ctx, "plain", &s); err != nil || s != "value" {
		t.Fatalf("string round trip: %q %v", s, err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	mc.now = func() time.Time { return now }
	_ = mc.Set(ctx, "k", "v", time.Second)

	now = now.Add(2 * time.Second)
	var s string
	if err := mc.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
	if mc.Len() != 0 {
		t.Fatalf("expired entry not removed")
	}
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "calendar:rules:HK", "1", 0)
	_ = mc.Set(ctx, "calendar:rules:US", "2", 0)
	_ = mc.Set(ctx, "other", "3", 0)

	if err := mc.DeleteByPattern(ctx, "calendar:*"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mc.Exists(ctx, "calendar:rules:HK", "calendar:rules:US"); ok {
		t.Fatalf("calendar keys survived")
	}
	if ok, _ := mc.Exists(ctx, "other"); !ok {
		t.Fatalf("unrelated key removed")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	mc.now = func() time.Time { return now }
	_ = mc.Set(ctx, "a", "1", 0)
	now = now.Add(time.Second)
	_ = mc.Set(ctx, "b", "2", 0)
	now = now.Add(time.Second)
	var s string
	_ = mc.Get(ctx, "a", &s)
	now = now.Add(time.Second)
	_ = mc.Set(ctx, "c", "3", 0)

	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if ok, _ := mc.Exists(ctx, "a", "c"); !ok {
		t.Fatalf("a or c missing")
	}
}
