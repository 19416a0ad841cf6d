package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
)

type fakeFeed struct {
	mu    sync.Mutex
	calls int32
	rules []models.TradingRule
	err   error
	delay time.Duration
}

func (f *fakeFeed) FetchRules(ctx context.Context, key string) ([]models.TradingRule, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules, f.err
}

func (f *fakeFeed) set(rules []models.TradingRule, err error) {
	f.mu.Lock()
	f.rules, f.err = rules, err
	f.mu.Unlock()
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Set(ctx context.Context, key string, v interface{}, _ time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = b
	return nil
}

func (m *memStore) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	b, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return errors.New("miss")
	}
	return json.Unmarshal(b, dest)
}

func (m *memStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestCacheServesFreshEntry(t *testing.T) {
	feed := &fakeFeed{rules: []models.TradingRule{rule("*", "09:30:00", "16:00:00", "trade")}}
	clk := &clock{t: utc(2024, 1, 1, 0, 0)}
	c := NewCache(feed, testRegistry(t), WithTTL(time.Hour), WithCacheClock(clk.now))

	for i := 0; i < 3; i++ {
		rules, err := c.Rules(context.Background(), "HSI")
		if err != nil || len(rules) != 1 {
			t.Fatalf("unexpected %v %v", rules, err)
		}
	}
	if n := atomic.LoadInt32(&feed.calls); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}

	clk.advance(2 * time.Hour)
	feed.set([]models.TradingRule{rule("*", "09:00:00", "12:00:00", "a"), rule("*", "13:00:00", "16:00:00", "b")}, nil)
	rules, _ := c.Rules(context.Background(), "HK")
	if len(rules) != 2 || atomic.LoadInt32(&feed.calls) != 2 {
		t.Fatalf("stale entry should refresh, got %d rules", len(rules))
	}
}

func TestCacheKeepsLastKnownGood(t *testing.T) {
	feed := &fakeFeed{rules: []models.TradingRule{rule("*", "09:30:00", "16:00:00", "trade")}}
	clk := &clock{t: utc(2024, 1, 1, 0, 0)}
	c := NewCache(feed, testRegistry(t), WithTTL(time.Minute), WithRetryBackoff(10*time.Second), WithCacheClock(clk.now))

	if _, err := c.Rules(context.Background(), "HK"); err != nil {
		t.Fatalf("rules: %v", err)
	}
	clk.advance(5 * time.Minute)
	feed.set(nil, errors.New("vendor down"))

	rules, err := c.Rules(context.Background(), "HK")
	if err != nil || len(rules) != 1 || rules[0].Description != "trade" {
		t.Fatalf("expected last known good, got %v %v", rules, err)
	}

	// Within the backoff window the feed is not hit again.
	c.Rules(context.Background(), "HK")
	if n := atomic.LoadInt32(&feed.calls); n != 2 {
		t.Fatalf("expected two fetches, got %d", n)
	}

	clk.advance(11 * time.Second)
	feed.set(nil, nil)
	rules, _ = c.Rules(context.Background(), "HK")
	if len(rules) != 1 {
		t.Fatalf("empty fetch must not replace good rules, got %v", rules)
	}
}

func TestCacheEmptyWhenNothingKnown(t *testing.T) {
	feed := &fakeFeed{err: errors.New("vendor down")}
	c := NewCache(feed, testRegistry(t))
	rules, err := c.Rules(context.Background(), "HK")
	if err != nil || len(rules) != 0 {
		t.Fatalf("expected empty set without error, got %v %v", rules, err)
	}
	if _, err := c.Rules(context.Background(), "XX"); !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestCacheDeduplicatesConcurrentRefresh(t *testing.T) {
	feed := &fakeFeed{rules: []models.TradingRule{rule("*", "09:30:00", "16:00:00", "trade")}, delay: 50 * time.Millisecond}
	c := NewCache(feed, testRegistry(t))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Rules(context.Background(), "HK")
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&feed.calls); n != 1 {
		t.Fatalf("expected a single fetch, got %d", n)
	}
}

func TestCacheRestoresSnapshot(t *testing.T) {
	store := &memStore{}
	reg := testRegistry(t)
	good := &fakeFeed{rules: []models.TradingRule{rule("*", "09:30:00", "16:00:00", "trade")}}
	NewCache(good, reg, WithSnapshotStore(store, time.Hour)).Rules(context.Background(), "HK")

	down := &fakeFeed{err: errors.New("vendor down")}
	restarted := NewCache(down, reg, WithSnapshotStore(store, time.Hour))
	rules, _ := restarted.Rules(context.Background(), "HK")
	if len(rules) != 1 {
		t.Fatalf("expected snapshot rules, got %v", rules)
	}

	restarted.Clear(context.Background())
	if len(store.data) != 0 {
		t.Fatalf("clear should drop snapshots")
	}
	rules, _ = restarted.Rules(context.Background(), "HK")
	if len(rules) != 0 {
		t.Fatalf("expected empty after clear, got %v", rules)
	}
}
