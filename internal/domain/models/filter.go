package models

import "sort"

// Filter selects events for a subscriber. A nil set matches everything;
// all non-nil sets must contain the event's value.
type Filter struct {
	Sources map[string]struct{}
	Markets map[string]struct{}
	Kinds   map[DataKind]struct{}
}

// NewFilter builds a filter. An empty slice leaves that dimension unset.
func NewFilter(sources, markets []string, kinds []DataKind) Filter {
	var f Filter
	if len(sources) > 0 {
		f.Sources = make(map[string]struct{}, len(sources))
		for _, s := range sources {
			f.Sources[s] = struct{}{}
		}
	}
	if len(markets) > 0 {
		f.Markets = make(map[string]struct{}, len(markets))
		for _, m := range markets {
			f.Markets[m] = struct{}{}
		}
	}
	if len(kinds) > 0 {
		f.Kinds = make(map[DataKind]struct{}, len(kinds))
		for _, k := range kinds {
			f.Kinds[k] = struct{}{}
		}
	}
	return f
}

// Matches reports whether ev passes every set dimension.
func (f Filter) Matches(ev *MarketEvent) bool {
	if ev == nil {
		return false
	}
	if f.Sources != nil {
		if _, ok := f.Sources[ev.SourceID]; !ok {
			return false
		}
	}
	if f.Markets != nil {
		if _, ok := f.Markets[ev.Symbol]; !ok {
			return false
		}
	}
	if f.Kinds != nil {
		if _, ok := f.Kinds[ev.Kind]; !ok {
			return false
		}
	}
	return true
}

// FilterView is the JSON form of a filter. Nil slices mean "all".
type FilterView struct {
	Sources   []string `json:"sources"`
	Markets   []string `json:"markets"`
	DataTypes []string `json:"data_types"`
}

// View returns a sorted, serializable copy of the filter.
func (f Filter) View() FilterView {
	var v FilterView
	for s := range f.Sources {
		v.Sources = append(v.Sources, s)
	}
	for m := range f.Markets {
		v.Markets = append(v.Markets, m)
	}
	for k := range f.Kinds {
		v.DataTypes = append(v.DataTypes, string(k))
	}
	sort.Strings(v.Sources)
	sort.Strings(v.Markets)
	sort.Strings(v.DataTypes)
	return v
}
