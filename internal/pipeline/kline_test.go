package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
)

type barWriter struct {
	mu   sync.Mutex
	bars []models.MarketEvent
	err  error
}

func (w *barWriter) StoreKlines(_ context.Context, bars []models.MarketEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.bars = append(w.bars, bars...)
	return nil
}

func (w *barWriter) stored() []models.MarketEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.MarketEvent(nil), w.bars...)
}

func tick(sym string, at time.Time, price, vol float64) *models.MarketEvent {
	return &models.MarketEvent{SourceID: "finnhub", Symbol: sym, Kind: models.KindRealtime, Price: price, Timestamp: at, Volume: models.Float(vol)}
}

func TestKlineStageBuildsMinuteBars(t *testing.T) {
	w := &barWriter{}
	s := NewKlineStage(w, KlineConfig{BatchSize: 1, FlushInterval: time.Hour}, nil, nil)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2024, 1, 2, 2, 15, 0, 0, time.UTC)
	for _, ev := range []*models.MarketEvent{
		tick("HSI", base.Add(5*time.Second), 100, 1),
		tick("HSI", base.Add(20*time.Second), 104, 2),
		tick("HSI", base.Add(40*time.Second), 98, 3),
		tick("HSI", base.Add(55*time.Second), 101, 4),
	} {
		if err := s.Handle(ctx, ev); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if len(w.stored()) != 0 {
		t.Fatalf("bar written before its minute closed")
	}

	// next minute closes the first bar
	if err := s.Handle(ctx, tick("HSI", base.Add(65*time.Second), 102, 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := w.stored()
	if len(got) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(got))
	}
	b := got[0]
	if !b.Timestamp.Equal(base) || b.Kind != models.KindKline1m {
		t.Fatalf("unexpected bar header %+v", b)
	}
	if *b.Open != 100 || *b.High != 104 || *b.Low != 98 || *b.Close != 101 || *b.Volume != 10 {
		t.Fatalf("unexpected OHLCV o=%v h=%v l=%v c=%v v=%v", *b.Open, *b.High, *b.Low, *b.Close, *b.Volume)
	}
}

func TestKlineStageIgnoresLateTicksAndBars(t *testing.T) {
	w := &barWriter{}
	s := NewKlineStage(w, KlineConfig{BatchSize: 1, FlushInterval: time.Hour}, nil, nil)
	ctx := context.Background()

	base := time.Date(2024, 1, 2, 2, 15, 0, 0, time.UTC)
	_ = s.Handle(ctx, tick("HSI", base.Add(70*time.Second), 100, 0))
	_ = s.Handle(ctx, tick("HSI", base.Add(10*time.Second), 999, 0))
	_ = s.Handle(ctx, &models.MarketEvent{Symbol: "HSI", Kind: models.KindKline1m, Price: 5, Timestamp: base})

	_ = s.Close()
	got := w.stored()
	if len(got) != 1 || *got[0].High != 100 {
		t.Fatalf("late tick or bar leaked into output: %+v", got)
	}
}

func TestKlineStageFlushClosesIdleBars(t *testing.T) {
	w := &barWriter{}
	s := NewKlineStage(w, KlineConfig{BatchSize: 100, FlushInterval: time.Hour}, nil, nil)
	defer s.Close()

	base := time.Date(2024, 1, 2, 2, 15, 0, 0, time.UTC)
	s.now = func() time.Time { return base.Add(90 * time.Second) }
	_ = s.Handle(context.Background(), tick("NASDAQ", base.Add(time.Second), 1, 0))

	s.Flush(false)
	if len(w.stored()) != 0 {
		t.Fatalf("bar closed inside the grace minute")
	}
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	s.Flush(false)
	if len(w.stored()) != 1 {
		t.Fatalf("idle bar not written")
	}
}

func TestKlineStageRequeuesFailedBatch(t *testing.T) {
	w := &barWriter{err: errors.New("clickhouse down")}
	s := NewKlineStage(w, KlineConfig{BatchSize: 1, FlushInterval: time.Hour}, nil, nil)
	ctx := context.Background()

	base := time.Date(2024, 1, 2, 2, 15, 0, 0, time.UTC)
	_ = s.Handle(ctx, tick("HSI", base, 1, 0))
	if err := s.Handle(ctx, tick("HSI", base.Add(time.Minute), 2, 0)); err == nil {
		t.Fatalf("expected write error")
	}

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	_ = s.Close()
	if got := w.stored(); len(got) != 2 {
		t.Fatalf("expected requeued and forming bars, got %d", len(got))
	}
}
