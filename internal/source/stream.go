package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

// StreamSource adapts a push MarketStream to the QuoteSource contract.
// It remembers the last realtime event per market for Latest.
type StreamSource struct {
	id      string
	markets []string
	stream  drepo.MarketStream
	metrics drepo.Metrics
	logger  *applogger.Logger

	obs observers

	mu   sync.RWMutex
	last map[string]models.MarketEvent

	stop     chan struct{}
	stopOnce sync.Once
}

func NewStreamSource(id string, markets []string, stream drepo.MarketStream, metrics drepo.Metrics, logger *applogger.Logger) *StreamSource {
	if logger == nil {
		logger = applogger.Nop()
	}
	ms := append([]string(nil), markets...)
	sort.Strings(ms)
	return &StreamSource{
		id:      id,
		markets: ms,
		stream:  stream,
		metrics: metrics,
		logger:  logger,
		last:    make(map[string]models.MarketEvent),
		stop:    make(chan struct{}),
	}
}

func (s *StreamSource) Info() models.SourceInfo {
	return models.SourceInfo{ID: s.id, Name: s.id, SupportedMarkets: append([]string(nil), s.markets...)}
}

func (s *StreamSource) Attach(o drepo.Observer) { s.obs.attach(o) }
func (s *StreamSource) Detach(o drepo.Observer) { s.obs.detach(o) }

// IsConnected returns true if the underlying stream is connected.
func (s *StreamSource) IsConnected() bool { return s.stream.IsConnected() }

// Start connects and consumes until ctx is cancelled or Stop is called.
// A read error triggers a reconnect; only the initial connect fails Start.
func (s *StreamSource) Start(ctx context.Context) error {
	if err := s.stream.Connect(ctx); err != nil {
		return err
	}
	if err := s.stream.Subscribe(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	evCh, errCh := s.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			s.metrics.RecordError("stream")
			s.logger.Warn("stream read failed, reconnecting", applogger.String("source", s.id), applogger.Error(err))
			if rerr := s.stream.Reconnect(ctx); rerr != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("stream reconnect failed", applogger.String("source", s.id), applogger.Error(rerr))
				return fmt.Errorf("reconnect %s: %w", s.id, rerr)
			}
			evCh, errCh = s.stream.Read(ctx)
		case ev, ok := <-evCh:
			if !ok {
				evCh = nil
				continue
			}
			if ev == nil {
				continue
			}
			s.mu.Lock()
			s.last[ev.Symbol] = *ev
			s.mu.Unlock()
			s.obs.notify(ctx, ev)
		}
	}
}

func (s *StreamSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.stream.Close()
}

func (s *StreamSource) Latest(ctx context.Context, market string, kind models.DataKind) (*models.MarketEvent, error) {
	supported := false
	for _, m := range s.markets {
		if m == market {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMarket, market)
	}
	if kind != models.KindRealtime {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	s.mu.RLock()
	ev, ok := s.last[market]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, market, kind)
	}
	return &ev, nil
}
