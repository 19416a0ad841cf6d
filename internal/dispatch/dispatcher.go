package dispatch

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

// Dispatcher runs each event through the registered stages in order.
// A failing stage is logged and skipped; it never stops later stages and
// never reaches the producer.
type Dispatcher struct {
	mu      sync.RWMutex
	stages  []drepo.Stage
	logger  *applogger.Logger
	metrics drepo.Metrics
}

type Option func(*Dispatcher)

func WithLogger(l *applogger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m drepo.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// New creates a dispatcher with the given stages in delivery order.
func New(stages []drepo.Stage, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		stages:  append([]drepo.Stage(nil), stages...),
		logger:  applogger.Nop(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach appends a stage.
func (d *Dispatcher) Attach(s drepo.Stage) {
	d.mu.Lock()
	d.stages = append(d.stages, s)
	d.mu.Unlock()
}

// Detach removes every stage with the given name and reports whether one was found.
func (d *Dispatcher) Detach(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.stages[:0:0]
	for _, s := range d.stages {
		if s.Name() != name {
			kept = append(kept, s)
		}
	}
	found := len(kept) != len(d.stages)
	d.stages = kept
	return found
}

// Stages returns the stage names in delivery order.
func (d *Dispatcher) Stages() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.stages))
	for i, s := range d.stages {
		names[i] = s.Name()
	}
	return names
}

// Notify implements repository.Observer.
func (d *Dispatcher) Notify(ctx context.Context, ev *models.MarketEvent) {
	if ev == nil {
		return
	}
	d.mu.RLock()
	stages := d.stages
	d.mu.RUnlock()

	for _, s := range stages {
		start := time.Now()
		if err := d.run(ctx, s, ev); err != nil {
			d.metrics.RecordError("stage_" + s.Name())
			d.logger.Error("pipeline stage failed",
				applogger.String("stage", s.Name()),
				applogger.String("symbol", ev.Symbol),
				applogger.String("type", string(ev.Kind)),
				applogger.Error(err))
			continue
		}
		d.metrics.RecordMessageSent(s.Name(), ev.Symbol)
		d.metrics.RecordLatency("stage_"+s.Name(), time.Since(start).Seconds())
	}
}

func (d *Dispatcher) run(ctx context.Context, s drepo.Stage, ev *models.MarketEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Handle(ctx, ev)
}
