package cache

import (
	"errors"
	"testing"
	"time"
)

func TestTTLCacheExpiresAndPurges(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache()
	c.now = func() time.Time { return now }

	_ = c.SetBytes("status:HK", []byte("open"), time.Second)
	_ = c.SetBytes("status:NASDAQ", []byte("closed"), 0)
	_ = c.SetBytes("opening:HK", []byte("x"), time.Minute)

	if b, ok, _ := c.GetBytes("status:HK"); !ok || string(b) != "open" {
		t.Fatalf("expected fresh hit, got %q %v", b, ok)
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := c.GetBytes("status:HK"); ok {
		t.Fatalf("expected expiry")
	}
	if _, ok, _ := c.GetBytes("status:NASDAQ"); !ok {
		t.Fatalf("zero ttl should never expire")
	}

	if n := c.Purge("status:"); n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if _, ok, _ := c.GetBytes("opening:HK"); !ok {
		t.Fatalf("purge removed an unrelated key")
	}
}

func TestTTLCacheLoadFillsOnce(t *testing.T) {
	c := NewTTLCache()
	calls := 0
	fill := func() ([]byte, error) {
		calls++
		return []byte("v"), nil
	}
	for i := 0; i < 3; i++ {
		b, err := c.Load("status:HK", time.Minute, fill)
		if err != nil || string(b) != "v" {
			t.Fatalf("load: %q %v", b, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fill, got %d", calls)
	}

	if _, err := c.Load("uncached", 0, fill); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok, _ := c.GetBytes("uncached"); ok {
		t.Fatalf("zero ttl should not store")
	}
}

func TestTTLCacheLoadDropsFillRacingPurge(t *testing.T) {
	c := NewTTLCache()
	_, _ = c.Load("status:HK", time.Minute, func() ([]byte, error) {
		c.Purge("")
		return []byte("stale"), nil
	})
	if _, ok, _ := c.GetBytes("status:HK"); ok {
		t.Fatalf("fill started before a purge must not be stored")
	}
}

func TestTTLCacheLoadPropagatesError(t *testing.T) {
	c := NewTTLCache()
	boom := errors.New("boom")
	if _, err := c.Load("k", time.Minute, func() ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fill error, got %v", err)
	}
}
