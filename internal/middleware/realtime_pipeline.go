package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

// EventGuard sits between the quote sources and the dispatcher.
// It validates, throttles per symbol and kind, optionally transforms, and
// forwards accepted events to the next observer.
type EventGuard struct {
	next      domrepo.Observer
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	maxRPS    int
	mu        sync.Mutex
	lastSeen  map[string]time.Time // per symbol/kind last accepted time
	transform func(*models.MarketEvent) *models.MarketEvent
	now       func() time.Time
}

type GuardOption func(*EventGuard)

// WithMaxRPS sets the max events per second per symbol and kind. Zero disables throttling.
func WithMaxRPS(n int) GuardOption {
	return func(g *EventGuard) {
		if n >= 0 {
			g.maxRPS = n
		}
	}
}

// WithTransform sets a hook that rewrites events before forwarding.
func WithTransform(fn func(*models.MarketEvent) *models.MarketEvent) GuardOption {
	return func(g *EventGuard) { g.transform = fn }
}

func WithGuardLogger(l *applogger.Logger) GuardOption {
	return func(g *EventGuard) {
		if l != nil {
			g.logger = l
		}
	}
}

func withGuardClock(now func() time.Time) GuardOption {
	return func(g *EventGuard) { g.now = now }
}

// NewEventGuard creates a guard forwarding to next.
func NewEventGuard(next domrepo.Observer, metrics domrepo.Metrics, opts ...GuardOption) *EventGuard {
	g := &EventGuard{
		next:     next,
		metrics:  metrics,
		logger:   applogger.Nop(),
		maxRPS:   20,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Notify implements repository.Observer.
func (g *EventGuard) Notify(ctx context.Context, ev *models.MarketEvent) {
	start := g.now()
	if err := validateEvent(ev); err != nil {
		g.metrics.RecordError("guard_validate")
		g.logger.Warn("dropping invalid event", applogger.Error(err))
		return
	}
	if g.transform != nil {
		ev = g.transform(ev)
		if err := validateEvent(ev); err != nil {
			g.metrics.RecordError("guard_transform_invalid")
			g.logger.Warn("transform produced invalid event", applogger.Error(err))
			return
		}
	}
	if !g.allow(ev.Symbol+"/"+string(ev.Kind), start) {
		// throttled; record and drop silently
		g.metrics.RecordError("guard_throttle")
		return
	}

	g.metrics.RecordLastPrice(ev.Symbol, ev.Price)
	g.next.Notify(ctx, ev)
	g.metrics.RecordLatency("guard_forward", g.now().Sub(start).Seconds())
}

func validateEvent(ev *models.MarketEvent) error {
	if ev == nil {
		return fmt.Errorf("event nil")
	}
	if ev.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if ev.Timestamp.IsZero() || ev.Timestamp.Unix() <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if ev.Price < 0 || (ev.Volume != nil && *ev.Volume < 0) {
		return fmt.Errorf("negative price/volume")
	}
	return nil
}

func (g *EventGuard) allow(key string, now time.Time) bool {
	if g.maxRPS <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	last, seen := g.lastSeen[key]
	if seen && now.Sub(last) < time.Second/time.Duration(g.maxRPS) {
		return false
	}
	g.lastSeen[key] = now
	return true
}
