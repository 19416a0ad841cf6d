package repository

import (
	"context"
	"time"

	"MarketPulse/internal/domain/models"
)

// CalendarFeed fetches the current rule set for a vendor market key.
type CalendarFeed interface {
	FetchRules(ctx context.Context, feedKey string) ([]models.TradingRule, error)
}

// QuoteFeed fetches realtime quotes. The result is keyed by vendor code.
type QuoteFeed interface {
	FetchQuotes(ctx context.Context, codes []string) (map[string]models.MarketEvent, error)
}

// MarketStream is a push feed of realtime trades.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.MarketEvent, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// KlineStore reads one-minute bars.
type KlineStore interface {
	KlinesSince(ctx context.Context, symbol string, since time.Time, limit int) ([]models.MarketEvent, error)
	LatestKline(ctx context.Context, symbol string) (*models.MarketEvent, error)
	Close() error
}

// KlineWriter persists completed one-minute bars.
type KlineWriter interface {
	StoreKlines(ctx context.Context, bars []models.MarketEvent) error
}

// Observer receives events pushed by a QuoteSource.
type Observer interface {
	Notify(ctx context.Context, ev *models.MarketEvent)
}

// QuoteSource produces MarketEvents at its own cadence.
type QuoteSource interface {
	Info() models.SourceInfo
	Attach(o Observer)
	Detach(o Observer)
	// Start runs until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error
	Stop() error
	Latest(ctx context.Context, market string, kind models.DataKind) (*models.MarketEvent, error)
}

// Stage is one step of the dispatch pipeline.
type Stage interface {
	Name() string
	Handle(ctx context.Context, ev *models.MarketEvent) error
}

// EventPublisher pushes events onto the outbound event bus.
type EventPublisher interface {
	Publish(ctx context.Context, ev *models.MarketEvent) error
	Close() error
}

type Metrics interface {
	RecordMessageSent(stage, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordConnections(total, active int)
	RecordDropped(n int)
}
