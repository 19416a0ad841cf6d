package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

// WenCaiID identifies the polling source.
const WenCaiID = "wen_cai"

// WenCaiConfig controls the polling cadence.
type WenCaiConfig struct {
	RealtimeInterval time.Duration
	KlineInterval    time.Duration
	// KlineLookback bounds the first kline read after start.
	KlineLookback time.Duration
	KlineLimit    int
	// Codes maps market symbols to vendor quote codes.
	Codes map[string]string
}

func (c WenCaiConfig) withDefaults() WenCaiConfig {
	if c.RealtimeInterval <= 0 {
		c.RealtimeInterval = 2 * time.Second
	}
	if c.KlineInterval <= 0 {
		c.KlineInterval = 15 * time.Second
	}
	if c.KlineLookback <= 0 {
		c.KlineLookback = 5 * time.Minute
	}
	if c.KlineLimit <= 0 {
		c.KlineLimit = 500
	}
	if len(c.Codes) == 0 {
		c.Codes = map[string]string{
			models.SymbolHSI:    "rt_hkHSI",
			models.SymbolNASDAQ: "gb_ixic",
		}
	}
	return c
}

// WenCaiSource polls realtime quotes while a supported market is open and
// replays new one-minute klines on a slower cadence.
type WenCaiSource struct {
	cfg     WenCaiConfig
	markets []string
	quotes  drepo.QuoteFeed
	klines  drepo.KlineStore
	status  StatusChecker
	logger  *applogger.Logger
	now     func() time.Time

	obs observers

	mu        sync.Mutex
	lastKline map[string]time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewWenCaiSource builds the source. klines may be nil, in which case the
// kline cadence is disabled.
func NewWenCaiSource(cfg WenCaiConfig, quotes drepo.QuoteFeed, klines drepo.KlineStore, status StatusChecker, logger *applogger.Logger) *WenCaiSource {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = applogger.Nop()
	}
	markets := make([]string, 0, len(cfg.Codes))
	for m := range cfg.Codes {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	return &WenCaiSource{
		cfg:       cfg,
		markets:   markets,
		quotes:    quotes,
		klines:    klines,
		status:    status,
		logger:    logger,
		now:       time.Now,
		lastKline: make(map[string]time.Time),
		stop:      make(chan struct{}),
	}
}

func (s *WenCaiSource) Info() models.SourceInfo {
	return models.SourceInfo{ID: WenCaiID, Name: "WenCai", SupportedMarkets: append([]string(nil), s.markets...)}
}

func (s *WenCaiSource) Attach(o drepo.Observer) { s.obs.attach(o) }
func (s *WenCaiSource) Detach(o drepo.Observer) { s.obs.detach(o) }

// Start polls until ctx is cancelled or Stop is called.
func (s *WenCaiSource) Start(ctx context.Context) error {
	rt := time.NewTicker(s.cfg.RealtimeInterval)
	defer rt.Stop()
	kl := time.NewTicker(s.cfg.KlineInterval)
	defer kl.Stop()

	s.logger.Info("quote source started",
		applogger.String("source", WenCaiID),
		applogger.Strings("markets", s.markets),
		applogger.Duration("realtime_interval", s.cfg.RealtimeInterval),
		applogger.Duration("kline_interval", s.cfg.KlineInterval),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case <-rt.C:
			s.realtimeTick(ctx)
		case <-kl.C:
			s.klineTick(ctx)
		}
	}
}

func (s *WenCaiSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// openMarkets returns the supported markets trading now. Status errors count
// as closed.
func (s *WenCaiSource) openMarkets(ctx context.Context) []string {
	var open []string
	for _, m := range s.markets {
		st, err := s.status.CurrentStatus(ctx, m)
		if err != nil {
			s.logger.Warn("market status check failed", applogger.String("market", m), applogger.Error(err))
			continue
		}
		if st.IsOpen {
			open = append(open, m)
		}
	}
	return open
}

func (s *WenCaiSource) realtimeTick(ctx context.Context) {
	open := s.openMarkets(ctx)
	if len(open) == 0 {
		return
	}
	codes := make([]string, 0, len(open))
	for _, m := range open {
		codes = append(codes, s.cfg.Codes[m])
	}
	quotes, err := s.quotes.FetchQuotes(ctx, codes)
	if err != nil {
		s.logger.Warn("realtime fetch failed", applogger.Strings("codes", codes), applogger.Error(err))
		return
	}
	for _, m := range open {
		q, ok := quotes[s.cfg.Codes[m]]
		if !ok {
			continue
		}
		ev := s.tag(q, m, models.KindRealtime)
		s.obs.notify(ctx, &ev)
	}
}

func (s *WenCaiSource) klineTick(ctx context.Context) {
	if s.klines == nil {
		return
	}
	for _, m := range s.markets {
		s.mu.Lock()
		since, ok := s.lastKline[m]
		s.mu.Unlock()
		if !ok {
			since = s.now().Add(-s.cfg.KlineLookback)
		}

		bars, err := s.klines.KlinesSince(ctx, m, since, s.cfg.KlineLimit)
		if err != nil {
			s.logger.Warn("kline read failed", applogger.String("market", m), applogger.Error(err))
			continue
		}
		latest := since
		for i := range bars {
			if !bars[i].Timestamp.After(since) {
				continue
			}
			ev := s.tag(bars[i], m, models.KindKline1m)
			s.obs.notify(ctx, &ev)
			if ev.Timestamp.After(latest) {
				latest = ev.Timestamp
			}
		}
		s.mu.Lock()
		s.lastKline[m] = latest
		s.mu.Unlock()
	}
}

func (s *WenCaiSource) tag(ev models.MarketEvent, market string, kind models.DataKind) models.MarketEvent {
	ev.SourceID = WenCaiID
	ev.Symbol = market
	ev.Kind = kind
	return ev
}

// Latest fetches the newest observation on demand.
func (s *WenCaiSource) Latest(ctx context.Context, market string, kind models.DataKind) (*models.MarketEvent, error) {
	code, ok := s.cfg.Codes[market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMarket, market)
	}
	switch kind {
	case models.KindRealtime:
		quotes, err := s.quotes.FetchQuotes(ctx, []string{code})
		if err != nil {
			return nil, fmt.Errorf("latest realtime %s: %w", market, err)
		}
		q, ok := quotes[code]
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrNoData, market, kind)
		}
		ev := s.tag(q, market, kind)
		return &ev, nil
	case models.KindKline1m:
		if s.klines == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
		}
		bar, err := s.klines.LatestKline(ctx, market)
		if err != nil {
			return nil, fmt.Errorf("latest kline %s: %w", market, err)
		}
		if bar == nil {
			return nil, fmt.Errorf("%w: %s %s", ErrNoData, market, kind)
		}
		ev := s.tag(*bar, market, kind)
		return &ev, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}
