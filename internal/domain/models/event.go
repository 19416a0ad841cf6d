package models

import (
	"fmt"
	"strings"
	"time"
)

// DataKind is the granularity of a quote observation.
type DataKind string

const (
	KindRealtime DataKind = "realtime"
	KindKline1m  DataKind = "kline1m"
	KindKline5m  DataKind = "kline5m"
	KindKline15m DataKind = "kline15m"
	KindKline30m DataKind = "kline30m"
	KindKline1h  DataKind = "kline1h"
	KindKline4h  DataKind = "kline4h"
	KindKline1d  DataKind = "kline1d"
	KindKline1w  DataKind = "kline1w"
	KindKline3M  DataKind = "kline3m"
	KindKline6M  DataKind = "kline6m"
	KindKline1y  DataKind = "kline1y"
)

// AllKinds lists every kind a subscriber may filter on.
var AllKinds = []DataKind{
	KindRealtime, KindKline1m, KindKline5m, KindKline15m, KindKline30m, KindKline1h,
	KindKline4h, KindKline1d, KindKline1w, KindKline3M, KindKline6M, KindKline1y,
}

// IsValidKind returns true if k is a known data kind.
func IsValidKind(k DataKind) bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Market symbols served by the built-in sources.
const (
	SymbolHSI    = "HSI"
	SymbolNASDAQ = "NASDAQ"
)

// MarketEvent is a single normalized quote observation.
// Optional fields are nil when the source does not provide them.
type MarketEvent struct {
	SourceID      string    `json:"source"`
	Symbol        string    `json:"symbol"`
	Kind          DataKind  `json:"type"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
	Volume        *float64  `json:"volume,omitempty"`
	Open          *float64  `json:"open_price,omitempty"`
	High          *float64  `json:"high_price,omitempty"`
	Low           *float64  `json:"low_price,omitempty"`
	Close         *float64  `json:"close_price,omitempty"`
	Change        *float64  `json:"change,omitempty"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
}

// Float returns a pointer to v, for the optional event fields.
func Float(v float64) *float64 { return &v }

// SimpleString renders the event as "time symbol kind price".
func (e MarketEvent) SimpleString() string {
	return fmt.Sprintf("%s %s %s %.2f",
		e.Timestamp.Format("2006-01-02 15:04:05"), e.Symbol, e.Kind, e.Price)
}

// String renders every populated field.
func (e MarketEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "MarketEvent{source=%s symbol=%s type=%s price=%g time=%s",
		e.SourceID, e.Symbol, e.Kind, e.Price, e.Timestamp.Format(time.RFC3339))
	opt := []struct {
		name string
		v    *float64
	}{
		{"volume", e.Volume}, {"open", e.Open}, {"high", e.High}, {"low", e.Low},
		{"close", e.Close}, {"change", e.Change}, {"change_percent", e.ChangePercent},
	}
	for _, o := range opt {
		if o.v != nil {
			fmt.Fprintf(&b, " %s=%g", o.name, *o.v)
		}
	}
	b.WriteString("}")
	return b.String()
}

// StreamPayload is the message body delivered to stream subscribers.
type StreamPayload struct {
	Event string `json:"event"`
	MarketEvent
}

// NewStreamPayload tags ev as a market_data message.
func NewStreamPayload(ev MarketEvent) StreamPayload {
	ev.Timestamp = ev.Timestamp.UTC()
	return StreamPayload{Event: "market_data", MarketEvent: ev}
}

// SourceInfo describes a quote source.
type SourceInfo struct {
	ID               string   `json:"source_id"`
	Name             string   `json:"source_name"`
	SupportedMarkets []string `json:"supported_markets"`
}
