package broadcast

import (
	"context"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
)

// Connection is one subscriber session with its own filter and bounded queue.
type Connection struct {
	ID        string
	Filter    models.Filter
	CreatedAt time.Time

	mu           sync.Mutex
	queue        *ring[models.MarketEvent]
	connected    bool
	lastActivity time.Time
	delivered    uint64
	dropped      uint64

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// ConnectionInfo is a point-in-time view of a connection.
type ConnectionInfo struct {
	ID           string            `json:"id"`
	Connected    bool              `json:"connected"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	DataCount    uint64            `json:"data_count"`
	DroppedCount uint64            `json:"dropped_count"`
	Queued       int               `json:"queued"`
	Filter       models.FilterView `json:"filter"`
}

func newConnection(id string, filter models.Filter, capacity int, now func() time.Time) *Connection {
	t := now()
	return &Connection{
		ID:           id,
		Filter:       filter,
		CreatedAt:    t,
		queue:        newRing[models.MarketEvent](capacity),
		connected:    true,
		lastActivity: t,
		ready:        make(chan struct{}, 1),
		done:         make(chan struct{}),
		now:          now,
	}
}

// offer enqueues ev without blocking. When the queue is full the oldest
// item is evicted first. It returns false for a disconnected connection.
func (c *Connection) offer(ev models.MarketEvent) (accepted, evicted bool) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return false, false
	}
	evicted = c.queue.push(ev)
	c.delivered++
	if evicted {
		c.dropped++
	}
	c.mu.Unlock()

	c.signal()
	return true, evicted
}

func (c *Connection) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// next waits up to timeout for an event.
func (c *Connection) next(ctx context.Context, timeout time.Duration) (models.MarketEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if !c.connected {
			c.mu.Unlock()
			return models.MarketEvent{}, ErrConnectionClosed
		}
		c.lastActivity = c.now()
		ev, ok := c.queue.pop()
		more := c.queue.len() > 0
		c.mu.Unlock()

		if ok {
			if more {
				// let another waiting consumer pick up the remainder
				c.signal()
			}
			return ev, nil
		}

		select {
		case <-c.ready:
		case <-c.done:
			return models.MarketEvent{}, ErrConnectionClosed
		case <-timer.C:
			c.touch()
			return models.MarketEvent{}, ErrConsumeTimeout
		case <-ctx.Done():
			return models.MarketEvent{}, ctx.Err()
		}
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = c.now()
	c.mu.Unlock()
}

// close marks the connection disconnected and wakes blocked consumers.
func (c *Connection) close() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// Connected reports whether the connection still accepts events.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Done is closed once the connection is disconnected.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Info returns a snapshot of the connection's counters.
func (c *Connection) Info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionInfo{
		ID:           c.ID,
		Connected:    c.connected,
		CreatedAt:    c.CreatedAt,
		LastActivity: c.lastActivity,
		DataCount:    c.delivered,
		DroppedCount: c.dropped,
		Queued:       c.queue.len(),
		Filter:       c.Filter.View(),
	}
}

// idle reports whether the connection should be reaped at now.
func (c *Connection) idle(now time.Time, threshold time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.connected || now.Sub(c.lastActivity) > threshold
}
