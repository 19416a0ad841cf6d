package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

var errEmptyRuleSet = errors.New("feed returned no rules")

// SnapshotStore persists the last good rule set per market so a restart
// during a vendor outage still has something to serve.
type SnapshotStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

type snapshot struct {
	Rules     []models.TradingRule `json:"rules"`
	FetchedAt time.Time            `json:"fetched_at"`
}

// entry is replaced wholesale on refresh and never mutated afterwards.
type entry struct {
	rules     []models.TradingRule
	fetchedAt time.Time
	retryAt   time.Time
}

// CacheOption configures Cache.
type CacheOption func(*Cache)

// WithTTL sets how long a fetched rule set stays fresh.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithRetryBackoff sets how long a failed refresh is not retried.
func WithRetryBackoff(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d >= 0 {
			c.retryBackoff = d
		}
	}
}

// WithFetchTimeout bounds a single feed call.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithSnapshotStore enables persistence of good rule sets.
func WithSnapshotStore(s SnapshotStore, ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.store = s
		c.snapshotTTL = ttl
	}
}

func WithCacheLogger(l *applogger.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCacheClock replaces time.Now, for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// Cache holds one rule set per market with TTL refresh and last-known-good fallback.
type Cache struct {
	feed         repository.CalendarFeed
	registry     *Registry
	ttl          time.Duration
	retryBackoff time.Duration
	fetchTimeout time.Duration
	store        SnapshotStore
	snapshotTTL  time.Duration
	logger       *applogger.Logger
	now          func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

func NewCache(feed repository.CalendarFeed, registry *Registry, opts ...CacheOption) *Cache {
	c := &Cache{
		feed:         feed,
		registry:     registry,
		ttl:          time.Hour,
		retryBackoff: 30 * time.Second,
		fetchTimeout: 10 * time.Second,
		logger:       applogger.Nop(),
		now:          time.Now,
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the market table the cache resolves against.
func (c *Cache) Registry() *Registry { return c.registry }

// Rules returns the rule set for market, refreshing it when stale.
// The only error is ErrUnknownMarket; fetch failures degrade to the last
// good set, or to an empty set. The returned slice must not be modified.
func (c *Cache) Rules(ctx context.Context, market string) ([]models.TradingRule, error) {
	m, err := c.registry.Resolve(market)
	if err != nil {
		return nil, err
	}
	return c.rulesFor(ctx, m), nil
}

func (c *Cache) rulesFor(ctx context.Context, m Market) []models.TradingRule {
	now := c.now()
	c.mu.RLock()
	e := c.entries[m.ID]
	c.mu.RUnlock()

	if e != nil && (!e.fetchedAt.IsZero() && now.Sub(e.fetchedAt) <= c.ttl || now.Before(e.retryAt)) {
		return e.rules
	}

	v, _, _ := c.group.Do(m.ID, func() (interface{}, error) {
		return c.refresh(ctx, m), nil
	})
	return v.([]models.TradingRule)
}

func (c *Cache) refresh(ctx context.Context, m Market) []models.TradingRule {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	start := c.now()
	rules, err := c.feed.FetchRules(fctx, m.FeedKey)
	if err == nil && len(rules) == 0 {
		err = errEmptyRuleSet
	}
	if err == nil {
		c.swap(m.ID, &entry{rules: rules, fetchedAt: start})
		c.saveSnapshot(fctx, m, rules, start)
		c.logger.Info("calendar rules refreshed",
			applogger.String("market", m.ID),
			applogger.Int("rules", len(rules)))
		return rules
	}

	c.mu.RLock()
	prev := c.entries[m.ID]
	c.mu.RUnlock()
	if prev == nil {
		prev = c.loadSnapshot(fctx, m)
	}
	next := &entry{retryAt: start.Add(c.retryBackoff)}
	if prev != nil {
		next.rules = prev.rules
		next.fetchedAt = prev.fetchedAt
	}
	c.swap(m.ID, next)

	c.logger.Error("calendar fetch failed; serving last known rules",
		applogger.String("market", m.ID),
		applogger.Int("rules", len(next.rules)),
		applogger.Error(err))
	return next.rules
}

func (c *Cache) swap(id string, e *entry) {
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
}

func snapshotKey(id string) string { return "calendar:rules:" + id }

func (c *Cache) saveSnapshot(ctx context.Context, m Market, rules []models.TradingRule, at time.Time) {
	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, snapshotKey(m.ID), snapshot{Rules: rules, FetchedAt: at}, c.snapshotTTL); err != nil {
		c.logger.Warn("calendar snapshot save failed",
			applogger.String("market", m.ID), applogger.Error(err))
	}
}

func (c *Cache) loadSnapshot(ctx context.Context, m Market) *entry {
	if c.store == nil {
		return nil
	}
	var s snapshot
	if err := c.store.Get(ctx, snapshotKey(m.ID), &s); err != nil || len(s.Rules) == 0 {
		return nil
	}
	c.logger.Info("calendar rules restored from snapshot",
		applogger.String("market", m.ID),
		applogger.Time("fetched_at", s.FetchedAt))
	return &entry{rules: s.Rules, fetchedAt: s.FetchedAt}
}

// Clear drops every cached entry and persisted snapshot.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	ids := c.registry.IDs()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, snapshotKey(id))
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Warn("calendar snapshot clear failed", applogger.Error(err))
	}
	c.logger.Info("calendar cache cleared")
}
