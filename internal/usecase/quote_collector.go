package usecase

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	drepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

// QuoteCollector runs every quote source and feeds their events to one observer.
type QuoteCollector struct {
	sources  []drepo.QuoteSource
	observer drepo.Observer
	logger   *applogger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

func NewQuoteCollector(sources []drepo.QuoteSource, observer drepo.Observer, logger *applogger.Logger) *QuoteCollector {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &QuoteCollector{sources: sources, observer: observer, logger: logger}
}

// Run blocks until every source has returned. A failing source is logged and
// does not stop the others.
func (c *QuoteCollector) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, src := range c.sources {
		src := src
		src.Attach(c.observer)
		g.Go(func() error {
			defer src.Detach(c.observer)
			id := src.Info().ID
			c.logger.Info("starting quote source", applogger.String("source", id))
			if err := src.Start(ctx); err != nil {
				c.logger.Error("quote source stopped", applogger.String("source", id), applogger.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Start runs the collector in the background.
func (c *QuoteCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("collector already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan error, 1)
	go func() { c.done <- c.Run(ctx) }()
	return nil
}

// Stop stops every source and waits for Run to return or ctx to expire.
func (c *QuoteCollector) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	for _, src := range c.sources {
		if err := src.Stop(); err != nil {
			c.logger.Warn("quote source stop failed", applogger.String("source", src.Info().ID), applogger.Error(err))
		}
	}
	cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
