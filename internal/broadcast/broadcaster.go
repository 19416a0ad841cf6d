package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrConsumeTimeout     = errors.New("consume timeout")
)

// Config holds the broadcaster tunables.
type Config struct {
	QueueCapacity     int
	ConsumeTimeout    time.Duration
	ReapInterval      time.Duration
	InactivityTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.ConsumeTimeout <= 0 {
		c.ConsumeTimeout = 30 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 5 * time.Minute
	}
	return c
}

type Option func(*Broadcaster)

func WithLogger(l *applogger.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(b *Broadcaster) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// Stats summarizes the registry.
type Stats struct {
	TotalConnections  int              `json:"total_connections"`
	ActiveConnections int              `json:"active_connections"`
	TotalDataSent     uint64           `json:"total_data_sent"`
	Connections       []ConnectionInfo `json:"connections"`
}

// Broadcaster fans events out to subscriber connections. Registry mutation
// takes the write lock; queue operations only lock the connection involved.
type Broadcaster struct {
	cfg     Config
	logger  *applogger.Logger
	metrics repository.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	conns map[string]*Connection

	totalSent atomic.Uint64

	reaperOnce sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
}

func New(cfg Config, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		cfg:     cfg.withDefaults(),
		logger:  applogger.Nop(),
		metrics: metrics.Nop{},
		now:     time.Now,
		conns:   make(map[string]*Connection),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements repository.Stage.
func (b *Broadcaster) Name() string { return "broadcast" }

// Handle implements repository.Stage.
func (b *Broadcaster) Handle(_ context.Context, ev *models.MarketEvent) error {
	b.Broadcast(ev)
	return nil
}

// Create registers a new connection and returns its id. The reaper is
// started on first use.
func (b *Broadcaster) Create(filter models.Filter) string {
	b.reaperOnce.Do(b.startReaper)

	id := uuid.NewString()
	c := newConnection(id, filter, b.cfg.QueueCapacity, b.now)

	b.mu.Lock()
	b.conns[id] = c
	total, active := b.countsLocked()
	b.mu.Unlock()

	b.metrics.RecordConnections(total, active)
	b.logger.Info("stream connection created",
		applogger.String("connection_id", id),
		applogger.Any("filter", filter.View()))
	return id
}

func (b *Broadcaster) Get(id string) (*Connection, error) {
	b.mu.RLock()
	c, ok := b.conns[id]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return c, nil
}

// Disconnect marks the connection closed and wakes any blocked consumer.
// The entry stays registered until the reaper removes it.
func (b *Broadcaster) Disconnect(id string) error {
	c, err := b.Get(id)
	if err != nil {
		return err
	}
	c.close()
	b.logger.Info("stream connection disconnected", applogger.String("connection_id", id))
	return nil
}

// Broadcast offers ev to every connected subscriber whose filter matches.
// It never blocks on a slow consumer. It returns the number of connections
// that received the event.
func (b *Broadcaster) Broadcast(ev *models.MarketEvent) int {
	if ev == nil {
		return 0
	}
	b.mu.RLock()
	targets := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		if c.Filter.Matches(ev) {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	sent, dropped := 0, 0
	for _, c := range targets {
		accepted, evicted := c.offer(*ev)
		if accepted {
			sent++
		}
		if evicted {
			dropped++
		}
	}
	b.totalSent.Add(uint64(sent))
	if dropped > 0 {
		b.metrics.RecordDropped(dropped)
		b.logger.Debug("evicted oldest queued events",
			applogger.String("symbol", ev.Symbol),
			applogger.Int("connections", dropped))
	}
	return sent
}

// Consume waits for the next event on connection id, bounded by the
// configured timeout. ErrConsumeTimeout means the caller should send a
// keep-alive and try again.
func (b *Broadcaster) Consume(ctx context.Context, id string) (models.MarketEvent, error) {
	c, err := b.Get(id)
	if err != nil {
		return models.MarketEvent{}, err
	}
	return c.next(ctx, b.cfg.ConsumeTimeout)
}

// Stats returns counts and per-connection details ordered by creation.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	conns := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	st := Stats{
		TotalConnections: len(conns),
		TotalDataSent:    b.totalSent.Load(),
		Connections:      make([]ConnectionInfo, 0, len(conns)),
	}
	for _, c := range conns {
		info := c.Info()
		if info.Connected {
			st.ActiveConnections++
		}
		st.Connections = append(st.Connections, info)
	}
	sort.Slice(st.Connections, func(i, j int) bool {
		return st.Connections[i].CreatedAt.Before(st.Connections[j].CreatedAt)
	})
	return st
}

// Reap removes disconnected and inactive connections and returns how many
// were removed.
func (b *Broadcaster) Reap() int {
	now := b.now()

	b.mu.Lock()
	var removed []string
	for id, c := range b.conns {
		if c.idle(now, b.cfg.InactivityTimeout) {
			c.close()
			delete(b.conns, id)
			removed = append(removed, id)
		}
	}
	total, active := b.countsLocked()
	b.mu.Unlock()

	for _, id := range removed {
		b.logger.Info("stream connection reaped", applogger.String("connection_id", id))
	}
	b.metrics.RecordConnections(total, active)
	return len(removed)
}

func (b *Broadcaster) countsLocked() (total, active int) {
	for _, c := range b.conns {
		total++
		if c.Connected() {
			active++
		}
	}
	return total, active
}

func (b *Broadcaster) startReaper() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Reap()
			case <-b.stop:
				return
			}
		}
	}()
}

// Close stops the reaper and disconnects every connection.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() {
		// keep a later Create from starting a reaper nobody will stop
		b.reaperOnce.Do(func() {})
		close(b.stop)
	})
	b.wg.Wait()

	b.mu.Lock()
	for id, c := range b.conns {
		c.close()
		delete(b.conns, id)
	}
	b.mu.Unlock()
	b.logger.Info("broadcaster closed")
}
