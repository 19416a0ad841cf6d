package models

import "time"

// TradingRule is one vendor-supplied window.
// DatePattern is "YYYY-MM-DD", a weekday token "w0".."w6" or the wildcard "*".
// StartTime and EndTime are "HH:MM:SS" wall-clock strings in the market's zone.
type TradingRule struct {
	DatePattern string `json:"date_pattern"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
}

// MarketStatus is the resolved open/closed state at an instant.
type MarketStatus struct {
	IsOpen      bool         `json:"is_open"`
	StatusText  string       `json:"status_text"`
	MarketTime  time.Time    `json:"market_time"`
	MatchedRule *TradingRule `json:"matched_rule,omitempty"`
}

// TradingDay is a date-specific rule resolved to concrete instants.
type TradingDay struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
}
