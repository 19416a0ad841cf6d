package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
)

// KlineConfig tunes the bar recorder.
type KlineConfig struct {
	// BatchSize completed bars trigger an immediate write.
	BatchSize int
	// FlushInterval closes idle bars and writes whatever is pending.
	FlushInterval time.Duration
}

func (c KlineConfig) withDefaults() KlineConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	return c
}

// KlineStage folds realtime ticks into one-minute bars per symbol and writes
// completed bars in batches. Ticks older than the forming bar are dropped.
type KlineStage struct {
	w       drepo.KlineWriter
	cfg     KlineConfig
	metrics drepo.Metrics
	logger  *applogger.Logger
	now     func() time.Time

	mu      sync.Mutex
	forming map[string]*models.MarketEvent
	pending []models.MarketEvent

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewKlineStage(w drepo.KlineWriter, cfg KlineConfig, m drepo.Metrics, logger *applogger.Logger) *KlineStage {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = applogger.Nop()
	}
	s := &KlineStage{
		w:       w,
		cfg:     cfg.withDefaults(),
		metrics: m,
		logger:  logger,
		now:     time.Now,
		forming: make(map[string]*models.MarketEvent),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

func (s *KlineStage) Name() string { return "kline" }

func (s *KlineStage) Handle(ctx context.Context, ev *models.MarketEvent) error {
	if ev.Kind != models.KindRealtime {
		return nil
	}
	bucket := ev.Timestamp.Truncate(time.Minute)

	s.mu.Lock()
	bar := s.forming[ev.Symbol]
	switch {
	case bar == nil || bucket.After(bar.Timestamp):
		if bar != nil {
			s.pending = append(s.pending, *bar)
		}
		s.forming[ev.Symbol] = newBar(ev, bucket)
	case bucket.Before(bar.Timestamp):
		s.mu.Unlock()
		return nil
	default:
		extendBar(bar, ev)
	}
	var batch []models.MarketEvent
	if len(s.pending) >= s.cfg.BatchSize {
		batch = s.takePending()
	}
	s.mu.Unlock()

	return s.write(ctx, batch)
}

func newBar(ev *models.MarketEvent, bucket time.Time) *models.MarketEvent {
	vol := 0.0
	if ev.Volume != nil {
		vol = *ev.Volume
	}
	return &models.MarketEvent{
		SourceID:  ev.SourceID,
		Symbol:    ev.Symbol,
		Kind:      models.KindKline1m,
		Price:     ev.Price,
		Timestamp: bucket,
		Volume:    models.Float(vol),
		Open:      models.Float(ev.Price),
		High:      models.Float(ev.Price),
		Low:       models.Float(ev.Price),
		Close:     models.Float(ev.Price),
	}
}

func extendBar(bar, ev *models.MarketEvent) {
	if ev.Price > *bar.High {
		*bar.High = ev.Price
	}
	if ev.Price < *bar.Low {
		*bar.Low = ev.Price
	}
	*bar.Close = ev.Price
	bar.Price = ev.Price
	if ev.Volume != nil {
		*bar.Volume += *ev.Volume
	}
}

// takePending must be called with mu held.
func (s *KlineStage) takePending() []models.MarketEvent {
	batch := s.pending
	s.pending = nil
	return batch
}

// closeIdle moves bars whose minute ended more than a minute before now to
// pending. Must be called with mu held.
func (s *KlineStage) closeIdle(now time.Time) {
	for sym, bar := range s.forming {
		if now.Sub(bar.Timestamp) >= 2*time.Minute {
			s.pending = append(s.pending, *bar)
			delete(s.forming, sym)
		}
	}
}

func (s *KlineStage) write(ctx context.Context, batch []models.MarketEvent) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	if err := s.w.StoreKlines(ctx, batch); err != nil {
		s.metrics.RecordError("kline_store")
		s.requeue(batch)
		return fmt.Errorf("store %d bars: %w", len(batch), err)
	}
	s.metrics.RecordLatency("kline_store", time.Since(start).Seconds())
	for _, b := range batch {
		s.metrics.RecordMessageSent(s.Name(), b.Symbol)
	}
	return nil
}

// requeue keeps a failed batch for the next flush, bounded so an outage
// cannot grow memory without limit.
func (s *KlineStage) requeue(batch []models.MarketEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := 10 * s.cfg.BatchSize
	if len(s.pending)+len(batch) > limit {
		dropped := len(s.pending) + len(batch) - limit
		s.metrics.RecordDropped(dropped)
		s.logger.Warn("kline bars dropped", applogger.Int("bars", dropped))
		if dropped >= len(batch) {
			return
		}
		batch = batch[dropped:]
	}
	s.pending = append(batch, s.pending...)
}

func (s *KlineStage) flushLoop() {
	defer close(s.done)
	t := time.NewTicker(s.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.Flush(false)
		}
	}
}

// Flush writes pending bars. With all set, forming bars are written too.
func (s *KlineStage) Flush(all bool) {
	s.mu.Lock()
	if all {
		for sym, bar := range s.forming {
			s.pending = append(s.pending, *bar)
			delete(s.forming, sym)
		}
	} else {
		s.closeIdle(s.now())
	}
	batch := s.takePending()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.write(ctx, batch); err != nil {
		s.logger.Error("kline flush failed", applogger.Error(err))
	}
}

// Close stops the flusher and writes every bar, including forming ones.
func (s *KlineStage) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.Flush(true)
	})
	return nil
}
