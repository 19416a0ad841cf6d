package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"
)

// ErrUnknownMarket is returned for market ids that are neither registered nor aliased.
var ErrUnknownMarket = errors.New("unknown market")

// Market is a calendar jurisdiction.
type Market struct {
	ID       string
	Location *time.Location
	FeedKey  string
}

// MarketSpec is the configuration form of a Market.
type MarketSpec struct {
	ID       string
	Timezone string
	FeedKey  string
}

// Registry maps market ids and aliases to markets. It is immutable after construction.
type Registry struct {
	markets map[string]Market
	aliases map[string]string
}

// NewRegistry loads the zone of every market and validates that aliases point at known markets.
func NewRegistry(specs []MarketSpec, aliases map[string]string) (*Registry, error) {
	r := &Registry{
		markets: make(map[string]Market, len(specs)),
		aliases: make(map[string]string, len(aliases)),
	}
	for _, s := range specs {
		id := strings.ToUpper(strings.TrimSpace(s.ID))
		if id == "" {
			return nil, fmt.Errorf("market id is required")
		}
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, fmt.Errorf("market %s: load timezone %q: %w", id, s.Timezone, err)
		}
		r.markets[id] = Market{ID: id, Location: loc, FeedKey: s.FeedKey}
	}
	for alias, target := range aliases {
		t := strings.ToUpper(target)
		if _, ok := r.markets[t]; !ok {
			return nil, fmt.Errorf("alias %s targets unknown market %s", alias, target)
		}
		r.aliases[strings.ToUpper(alias)] = t
	}
	return r, nil
}

// DefaultMarketSpecs returns the markets served by the vendor feed.
func DefaultMarketSpecs() []MarketSpec {
	return []MarketSpec{
		{ID: "HK", Timezone: "Asia/Hong_Kong", FeedKey: "hk"},
		{ID: "NASDAQ", Timezone: "America/New_York", FeedKey: "nsq"},
	}
}

// DefaultAliases maps index symbols onto their calendar market.
func DefaultAliases() map[string]string {
	return map[string]string{"HSI": "HK"}
}

// Resolve normalizes id through the alias table.
func (r *Registry) Resolve(id string) (Market, error) {
	key := strings.ToUpper(strings.TrimSpace(id))
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	m, ok := r.markets[key]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return m, nil
}

// IDs returns the registered market ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.markets))
	for id := range r.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
