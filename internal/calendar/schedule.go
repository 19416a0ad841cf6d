package calendar

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
)

// Schedule lists date-specific rules as concrete instants.
type Schedule struct {
	options
	rules    RuleProvider
	registry *Registry
}

func NewSchedule(rules RuleProvider, registry *Registry, opts ...Option) *Schedule {
	return &Schedule{options: buildOptions(opts), rules: rules, registry: registry}
}

// SpecialDays converts every date-specific rule for market into a TradingDay
// expressed in loc. Rules that fail to convert are logged and skipped.
func (s *Schedule) SpecialDays(ctx context.Context, market string, loc *time.Location) ([]models.TradingDay, error) {
	m, err := s.registry.Resolve(market)
	if err != nil {
		return nil, err
	}
	rules, err := s.rules.Rules(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	days := make([]models.TradingDay, 0)
	for _, r := range rules {
		if !IsDatePattern(r.DatePattern) {
			continue
		}
		start, err := instantOf(r.DatePattern, r.StartTime, m.Location)
		if err != nil {
			s.logger.Warn("skipping special day", applogger.String("market", m.ID), applogger.Error(err))
			continue
		}
		end, err := instantOf(r.DatePattern, r.EndTime, m.Location)
		if err != nil {
			s.logger.Warn("skipping special day", applogger.String("market", m.ID), applogger.Error(err))
			continue
		}
		days = append(days, models.TradingDay{
			Start:       start.In(loc),
			End:         end.In(loc),
			Description: r.Description,
		})
	}
	return days, nil
}

// TradingDays is SpecialDays rendered in DisplayZone.
func (s *Schedule) TradingDays(ctx context.Context, market string) ([]models.TradingDay, error) {
	loc, err := time.LoadLocation(DisplayZone)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", DisplayZone, err)
	}
	return s.SpecialDays(ctx, market, loc)
}

// instantOf places clock on date in loc. "24:00:00" becomes midnight of the following day.
func instantOf(date, clock string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", date, err)
	}
	secs, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, secs, 0, loc), nil
}
