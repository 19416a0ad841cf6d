package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
)

// klineChunk bounds the rows sent in one multi-row INSERT.
const klineChunk = 2000

// StoreKlines inserts bars into the kline table. Re-inserting a bar for the
// same symbol and minute replaces it on merge.
func (s *CHKlineStore) StoreKlines(ctx context.Context, bars []models.MarketEvent) error {
	if len(bars) == 0 {
		return nil
	}
	start := time.Now()
	stored := 0
	for lo := 0; lo < len(bars); lo += klineChunk {
		hi := lo + klineChunk
		if hi > len(bars) {
			hi = len(bars)
		}
		q, args := klineInsert(bars[lo:hi])
		if len(args) == 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse kline insert error",
				applogger.Int("rows", len(args)/7),
				applogger.Error(err),
			)
			return fmt.Errorf("insert klines: %w", err)
		}
		stored += len(args) / 7
	}
	s.l.Debug("clickhouse kline insert ok",
		applogger.Int("rows", stored),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

// klineInsert builds one VALUES statement, skipping bars without a symbol,
// timestamp or OHLC.
func klineInsert(bars []models.MarketEvent) (string, []interface{}) {
	values := make([]string, 0, len(bars))
	args := make([]interface{}, 0, len(bars)*7)
	for _, b := range bars {
		if b.Symbol == "" || b.Timestamp.IsZero() || b.Open == nil || b.High == nil || b.Low == nil || b.Close == nil {
			continue
		}
		vol := 0.0
		if b.Volume != nil {
			vol = *b.Volume
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			b.Timestamp.UTC().Truncate(time.Minute),
			b.Symbol,
			*b.Open,
			*b.High,
			*b.Low,
			*b.Close,
			vol,
		)
	}
	q := "INSERT INTO " + KlineTable + " (bucket, symbol, open, high, low, close, vol) VALUES " + strings.Join(values, ",")
	return q, args
}
