package calendar

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
)

const (
	StatusNoRules = "no rules available"
	StatusUnknown = "status unknown"

	// DisplayZone is the zone wall-clock inputs and schedule outputs default to.
	DisplayZone = "Asia/Shanghai"

	wallClockLayout = "2006-01-02 15:04:05"
)

// ErrInvalidInstant is returned when a caller supplied time or zone cannot be parsed.
var ErrInvalidInstant = errors.New("invalid instant")

// RuleProvider supplies the current rule set for a market.
type RuleProvider interface {
	Rules(ctx context.Context, market string) ([]models.TradingRule, error)
}

type options struct {
	closed        *ClosedMatcher
	logger        *applogger.Logger
	now           func() time.Time
	weekdayOffset int
	horizonDays   int
}

// Option configures Resolver, OpeningSearch and Schedule.
type Option func(*options)

// WithClosedMatcher sets the keyword classifier for rule descriptions.
func WithClosedMatcher(m *ClosedMatcher) Option {
	return func(o *options) {
		if m != nil {
			o.closed = m
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithWeekdayOffset shifts the weekday token: the token for a date is
// "w" + (Go weekday + offset) mod 7. Offset 0 makes Sunday w0.
func WithWeekdayOffset(n int) Option {
	return func(o *options) { o.weekdayOffset = ((n % 7) + 7) % 7 }
}

// WithHorizonDays bounds the forward search for the next opening.
func WithHorizonDays(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.horizonDays = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		closed:      NewClosedMatcher(DefaultClosedKeywords),
		logger:      applogger.Nop(),
		now:         time.Now,
		horizonDays: 365,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) weekdayKey(t time.Time) string {
	return "w" + strconv.Itoa((int(t.Weekday())+o.weekdayOffset)%7)
}

// Resolver computes open/closed status from the prioritized rule set.
type Resolver struct {
	options
	rules    RuleProvider
	registry *Registry
}

func NewResolver(rules RuleProvider, registry *Registry, opts ...Option) *Resolver {
	return &Resolver{options: buildOptions(opts), rules: rules, registry: registry}
}

// CurrentStatus resolves market status at the current instant.
func (r *Resolver) CurrentStatus(ctx context.Context, market string) (models.MarketStatus, error) {
	return r.StatusAt(ctx, market, r.now())
}

// StatusAt resolves market status at the given instant, evaluated in the
// market's own zone.
func (r *Resolver) StatusAt(ctx context.Context, market string, at time.Time) (models.MarketStatus, error) {
	m, err := r.registry.Resolve(market)
	if err != nil {
		return models.MarketStatus{}, err
	}
	rules, err := r.rules.Rules(ctx, m.ID)
	if err != nil {
		return models.MarketStatus{}, err
	}
	return r.evaluate(m.ID, rules, at.In(m.Location)), nil
}

// StatusAtLocal parses wall ("2006-01-02 15:04:05") in tz, DisplayZone when
// empty, and resolves status at that instant.
func (r *Resolver) StatusAtLocal(ctx context.Context, market, wall, tz string) (models.MarketStatus, error) {
	if tz == "" {
		tz = DisplayZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return models.MarketStatus{}, fmt.Errorf("%w: timezone %q", ErrInvalidInstant, tz)
	}
	at, err := time.ParseInLocation(wallClockLayout, wall, loc)
	if err != nil {
		return models.MarketStatus{}, fmt.Errorf("%w: %q", ErrInvalidInstant, wall)
	}
	return r.StatusAt(ctx, market, at)
}

func (r *Resolver) evaluate(market string, rules []models.TradingRule, local time.Time) models.MarketStatus {
	st := models.MarketStatus{MarketTime: local}
	if len(rules) == 0 {
		st.StatusText = StatusNoRules
		return st
	}

	group := selectGroup(rules, local.Format(dateLayout), r.weekdayKey(local))
	now := clockOf(local)
	for _, rule := range group {
		w, err := parseWindow(rule)
		if err != nil {
			r.logger.Warn("skipping malformed trading rule",
				applogger.String("market", market),
				applogger.String("pattern", rule.DatePattern),
				applogger.Error(err))
			continue
		}
		if !w.contains(now) {
			continue
		}
		matched := rule
		st.IsOpen = !r.closed.IsClosed(rule.Description)
		st.StatusText = rule.Description
		st.MatchedRule = &matched
		return st
	}

	st.StatusText = StatusUnknown
	return st
}

// selectGroup returns the first non-empty group among date, weekday and
// wildcard rules. Later groups are never consulted once one is non-empty.
func selectGroup(rules []models.TradingRule, dateKey, weekdayKey string) []models.TradingRule {
	var byDate, byWeekday, wildcard []models.TradingRule
	for _, r := range rules {
		switch r.DatePattern {
		case dateKey:
			byDate = append(byDate, r)
		case weekdayKey:
			byWeekday = append(byWeekday, r)
		case Wildcard:
			wildcard = append(wildcard, r)
		}
	}
	switch {
	case len(byDate) > 0:
		return byDate
	case len(byWeekday) > 0:
		return byWeekday
	default:
		return wildcard
	}
}
