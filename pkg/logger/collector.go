package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Publisher ships a batch of aggregated entries to a topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries before an early flush
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration
}

// AggregatedLogEntry is one distinct log line and how often it repeated
// within a flush window.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogBatch is the payload of one flush.
type LogBatch struct {
	Host     string               `json:"host"`
	WindowMs int64                `json:"window_ms"`
	Entries  []AggregatedLogEntry `json:"entries"`
}

// LogCollector folds repeated error lines into counted entries, so a noisy
// failure produces one entry per flush window.
type LogCollector struct {
	cfg  CollectionConfig
	host string

	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	started time.Time

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		entries: make(map[string]*AggregatedLogEntry),
		started: time.Now(),
		stop:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	if c.cfg.PublishTimeout <= 0 {
		c.cfg.PublishTimeout = 30 * time.Second
	}
	c.host, _ = os.Hostname()

	c.wg.Add(1)
	go c.loop()
	return c
}

// AddLog records one occurrence. Entries match on level, caller, message
// and field values.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.entries[key] = &AggregatedLogEntry{
		Level:     level,
		Message:   message,
		Fields:    fields,
		Caller:    caller,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if len(c.entries) >= c.cfg.CountThreshold {
		c.publish(c.drainLocked(now))
	}
}

// Pending returns the number of distinct entries waiting for a flush.
func (c *LogCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func entryKey(level, message string, fields map[string]interface{}, caller string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(level)
	b.WriteByte('|')
	b.WriteString(caller)
	b.WriteByte('|')
	b.WriteString(message)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, fields[k])
	}
	return b.String()
}

func (c *LogCollector) loop() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			c.flush(now)
		case <-c.stop:
			c.flush(time.Now())
			return
		}
	}
}

func (c *LogCollector) flush(now time.Time) {
	c.mu.Lock()
	batch := c.drainLocked(now)
	c.mu.Unlock()
	c.publish(batch)
}

// drainLocked empties the window. It returns nil when nothing is pending.
func (c *LogCollector) drainLocked(now time.Time) *LogBatch {
	if len(c.entries) == 0 {
		c.started = now
		return nil
	}
	batch := &LogBatch{
		Host:     c.host,
		WindowMs: now.Sub(c.started).Milliseconds(),
		Entries:  make([]AggregatedLogEntry, 0, len(c.entries)),
	}
	for _, e := range c.entries {
		batch.Entries = append(batch.Entries, *e)
	}
	sort.Slice(batch.Entries, func(i, j int) bool {
		return batch.Entries[i].FirstSeen.Before(batch.Entries[j].FirstSeen)
	})
	c.entries = make(map[string]*AggregatedLogEntry)
	c.started = now
	return batch
}

func (c *LogCollector) publish(batch *LogBatch) {
	if batch == nil || c.cfg.Publisher == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		defer cancel()
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
			// the logger is the failing path; stderr is the only sink left
			fmt.Fprintf(os.Stderr, "log collector: publish %d entries: %v\n", len(batch.Entries), err)
		}
	}()
}

// Close flushes what is pending and waits for in-flight publishes.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}
