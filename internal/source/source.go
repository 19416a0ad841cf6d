// Package source holds the quote producers that feed the dispatch pipeline.
package source

import (
	"context"
	"errors"
	"sync"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
)

var (
	ErrUnsupportedMarket = errors.New("market not supported by source")
	ErrUnsupportedKind   = errors.New("data type not supported by source")
	ErrNoData            = errors.New("no data available")
)

// StatusChecker reports whether a market is trading now.
type StatusChecker interface {
	CurrentStatus(ctx context.Context, market string) (models.MarketStatus, error)
}

// observers is a copy-on-write observer list safe for concurrent use.
type observers struct {
	mu   sync.RWMutex
	list []drepo.Observer
}

func (o *observers) attach(x drepo.Observer) {
	if x == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cur := range o.list {
		if cur == x {
			return
		}
	}
	next := make([]drepo.Observer, 0, len(o.list)+1)
	next = append(next, o.list...)
	o.list = append(next, x)
}

func (o *observers) detach(x drepo.Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := make([]drepo.Observer, 0, len(o.list))
	for _, cur := range o.list {
		if cur != x {
			next = append(next, cur)
		}
	}
	o.list = next
}

func (o *observers) notify(ctx context.Context, ev *models.MarketEvent) {
	o.mu.RLock()
	list := o.list
	o.mu.RUnlock()
	for _, x := range list {
		x.Notify(ctx, ev)
	}
}
