package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	pkgch "MarketPulse/pkg/clickhouse"
	applogger "MarketPulse/pkg/logger"
)

// KlineTable holds one-minute bars per market symbol.
const KlineTable = "klines_1m"

// KlineSchema creates the kline table. It is applied through Client.InitSchema.
var KlineSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + KlineTable + ` (
        bucket DateTime64(3, 'UTC'),
        symbol LowCardinality(String),
        open   Float64,
        high   Float64,
        low    Float64,
        close  Float64,
        vol    Float64
    ) ENGINE = ReplacingMergeTree
    ORDER BY (symbol, bucket)`,
}

// CHKlineStore implements KlineStore backed by ClickHouse.
type CHKlineStore struct {
	db  *sql.DB
	l   *applogger.Logger
	loc *time.Location
}

// NewCHKlineStore wraps ch. Bar timestamps are returned in loc.
func NewCHKlineStore(ch *pkgch.Client, loc *time.Location, l *applogger.Logger) *CHKlineStore {
	if l == nil {
		l = applogger.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CHKlineStore{db: ch.DB(), l: l, loc: loc}
}

type klineRow struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

func (r klineRow) event(loc *time.Location) models.MarketEvent {
	return models.MarketEvent{
		Symbol:    r.Symbol,
		Kind:      models.KindKline1m,
		Price:     r.Close,
		Timestamp: r.Bucket.In(loc),
		Volume:    models.Float(r.Volume),
		Open:      models.Float(r.Open),
		High:      models.Float(r.High),
		Low:       models.Float(r.Low),
		Close:     models.Float(r.Close),
	}
}

// KlinesSince returns bars strictly after since, oldest first.
func (s *CHKlineStore) KlinesSince(ctx context.Context, symbol string, since time.Time, limit int) ([]models.MarketEvent, error) {
	start := time.Now()
	const q = `
        SELECT bucket, symbol, open, high, low, close, vol
        FROM ` + KlineTable + `
        WHERE symbol = ? AND bucket > ?
        ORDER BY bucket ASC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, q, symbol, since.UTC(), limit)
	if err != nil {
		s.l.Error("clickhouse klines_since query error",
			applogger.String("symbol", symbol),
			applogger.Time("since", since),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("klines since: %w", err)
	}
	defer rows.Close()

	out := make([]models.MarketEvent, 0, limit)
	for rows.Next() {
		var r klineRow
		if err := rows.Scan(&r.Bucket, &r.Symbol, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume); err != nil {
			return nil, fmt.Errorf("scan kline: %w", err)
		}
		out = append(out, r.event(s.loc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse klines_since ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// LatestKline returns the newest bar, or nil when the symbol has none.
func (s *CHKlineStore) LatestKline(ctx context.Context, symbol string) (*models.MarketEvent, error) {
	const q = `
        SELECT bucket, symbol, open, high, low, close, vol
        FROM ` + KlineTable + `
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT 1
    `
	var r klineRow
	err := s.db.QueryRowContext(ctx, q, symbol).
		Scan(&r.Bucket, &r.Symbol, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.l.Error("clickhouse latest_kline error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("latest kline: %w", err)
	}
	ev := r.event(s.loc)
	return &ev, nil
}

// Close is a no-op; the ClickHouse client owns the pool.
func (s *CHKlineStore) Close() error { return nil }
