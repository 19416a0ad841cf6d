package calendar

import (
	"context"
	"sort"
	"time"

	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
)

// OpeningSearch scans forward day by day for the next open window.
type OpeningSearch struct {
	options
	rules    RuleProvider
	registry *Registry
}

func NewOpeningSearch(rules RuleProvider, registry *Registry, opts ...Option) *OpeningSearch {
	return &OpeningSearch{options: buildOptions(opts), rules: rules, registry: registry}
}

// NextOpening returns the next opening window from now. The returned rule
// carries the concrete date in DatePattern; found is false when no window
// exists within the search horizon.
func (s *OpeningSearch) NextOpening(ctx context.Context, market string) (models.TradingRule, bool, error) {
	return s.NextOpeningAfter(ctx, market, s.now())
}

func (s *OpeningSearch) NextOpeningAfter(ctx context.Context, market string, at time.Time) (models.TradingRule, bool, error) {
	m, err := s.registry.Resolve(market)
	if err != nil {
		return models.TradingRule{}, false, err
	}
	rules, err := s.rules.Rules(ctx, m.ID)
	if err != nil {
		return models.TradingRule{}, false, err
	}
	rule, ok := s.search(m, rules, at.In(m.Location))
	return rule, ok, nil
}

type dayPlan struct {
	holidays  map[string]struct{}
	overrides map[string]window
	weekdays  map[string][]window
	wildcard  []window
}

func (s *OpeningSearch) plan(market string, rules []models.TradingRule) dayPlan {
	p := dayPlan{
		holidays:  make(map[string]struct{}),
		overrides: make(map[string]window),
		weekdays:  make(map[string][]window),
	}
	var dated []window
	for _, r := range rules {
		w, err := parseWindow(r)
		if err != nil {
			s.logger.Warn("skipping malformed trading rule",
				applogger.String("market", market),
				applogger.String("pattern", r.DatePattern),
				applogger.Error(err))
			continue
		}
		switch {
		case IsDatePattern(r.DatePattern):
			dated = append(dated, w)
		case r.DatePattern == Wildcard:
			p.wildcard = append(p.wildcard, w)
		default:
			p.weekdays[r.DatePattern] = append(p.weekdays[r.DatePattern], w)
		}
	}

	for _, w := range dated {
		if w.spansDay() && s.closed.IsClosed(w.rule.Description) {
			p.holidays[w.rule.DatePattern] = struct{}{}
		}
	}
	sortWindows(dated)
	for _, w := range dated {
		day := w.rule.DatePattern
		if _, holiday := p.holidays[day]; holiday {
			continue
		}
		if _, seen := p.overrides[day]; !seen {
			p.overrides[day] = w
		}
	}

	sortWindows(p.wildcard)
	for k := range p.weekdays {
		sortWindows(p.weekdays[k])
	}
	return p
}

func sortWindows(ws []window) {
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].start < ws[j].start })
}

func (s *OpeningSearch) search(m Market, rules []models.TradingRule, now time.Time) (models.TradingRule, bool) {
	p := s.plan(m.ID, rules)
	clock := clockOf(now)

	for i := 0; i < s.horizonDays; i++ {
		day := time.Date(now.Year(), now.Month(), now.Day()+i, 0, 0, 0, 0, m.Location)
		key := day.Format(dateLayout)
		if _, holiday := p.holidays[key]; holiday {
			continue
		}

		candidates := p.weekdays[s.weekdayKey(day)]
		if len(candidates) == 0 {
			candidates = p.wildcard
		}
		for _, w := range candidates {
			if s.closed.IsClosed(w.rule.Description) {
				continue
			}
			if i == 0 && clock > w.start {
				continue
			}
			out := w.rule
			if ov, ok := p.overrides[key]; ok {
				out.StartTime = ov.rule.StartTime
				out.EndTime = ov.rule.EndTime
				out.Description = ov.rule.Description
			}
			out.DatePattern = key
			return out, true
		}
	}
	return models.TradingRule{}, false
}
