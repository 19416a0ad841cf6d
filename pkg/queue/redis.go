package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"MarketPulse/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteScript moves due members of the schedule set onto the work list in
// one step, so replicas sharing a prefix never deliver a retry twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// RedisQueue is a work list plus a schedule sorted set in Redis. Failed
// messages are rescheduled per QueueConfig and parked on a dead-letter list
// once retries run out.
type RedisQueue struct {
	logger    *logger.Logger
	config    *QueueConfig
	client    *redis.Client
	keyPrefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.keyPrefix = prefix }
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.RetryLimit <= 0 {
		config.RetryLimit = len(config.RetrySchedule)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.DeadLetterMax <= 0 {
		config.DeadLetterMax = 1000
	}
	if lgr == nil {
		lgr = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rq := &RedisQueue{
		logger:    lgr,
		config:    config,
		client:    client,
		keyPrefix: "marketpulse:queue",
		jobs:      make(map[string]Job),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob routes messages of job.Type() to job. Call before Start.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis, then runs the workers and the retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.running = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.promoter()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("prefix", r.keyPrefix))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs. Scheduled retries
// stay in Redis for the next start.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue adds a message for immediate delivery.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	data, err := r.envelope(msgType, payload, 0)
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// EnqueueAt schedules a message for delivery at the given time. attempts is
// the number of deliveries that already failed, so the retry schedule keeps
// counting from there.
func (r *RedisQueue) EnqueueAt(ctx context.Context, msgType string, payload interface{}, at time.Time, attempts int) error {
	data, err := r.envelope(msgType, payload, attempts)
	if err != nil {
		return err
	}
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: score(at), Member: data}).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

func (r *RedisQueue) envelope(msgType string, payload interface{}, attempts int) ([]byte, error) {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return nil, fmt.Errorf("queue not running")
	}
	if !known {
		return nil, fmt.Errorf("no job registered for type: %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		Attempts:   attempts,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, time.Second, r.queueKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || r.ctx.Err() != nil {
				continue
			}
			r.logger.Error("brpop failed", logger.Int("worker_id", id), logger.Error(err))
			r.sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("unmarshal message", logger.Error(err))
			continue
		}
		r.process(msg)
	}
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(msg)
		return
	}

	err := job.Handle(r.ctx, msg.Payload)
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		// shutting down; put it back so the next start delivers it
		r.schedule(msg, time.Now())
	case msg.Attempts < r.config.RetryLimit:
		msg.Attempts++
		at := time.Now().Add(r.retryDelay(msg.Attempts))
		r.schedule(msg, at)
		r.logger.Warn("job failed, retry scheduled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempt", msg.Attempts),
			logger.Time("retry_at", at),
			logger.Error(err))
	default:
		r.logger.Error("job failed, retries exhausted",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts+1),
			logger.Error(err))
		r.deadLetter(msg)
	}
}

func (r *RedisQueue) schedule(msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: score(at), Member: data}).Err(); err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dead letter", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.deadLetterKey(), data)
	pipe.LTrim(ctx, r.deadLetterKey(), 0, r.config.DeadLetterMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("dead letter push", logger.Error(err))
	}
}

func (r *RedisQueue) promoter() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			n, err := promoteScript.Run(r.ctx, r.client,
				[]string{r.retryKey(), r.queueKey()},
				strconv.FormatFloat(score(time.Now()), 'f', 0, 64), 100,
			).Int()
			if err != nil {
				if r.ctx.Err() == nil {
					r.logger.Error("promote retries", logger.Error(err))
				}
				continue
			}
			if n > 0 {
				r.logger.Debug("retries promoted", logger.Int("count", n))
			}
		}
	}
}

func (r *RedisQueue) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-r.ctx.Done():
	}
}

// retryDelay returns the wait before the retry that follows the given number
// of failed attempts.
func (r *RedisQueue) retryDelay(attempts int) time.Duration {
	sched := r.config.RetrySchedule
	if len(sched) == 0 {
		return r.config.RetryDelay
	}
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sched) {
		i = len(sched) - 1
	}
	return sched[i]
}

// score is the schedule set score: unix milliseconds.
func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func (r *RedisQueue) queueKey() string      { return r.keyPrefix + ":messages" }
func (r *RedisQueue) retryKey() string      { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string { return r.keyPrefix + ":dlq" }
