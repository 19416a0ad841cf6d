package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"MarketPulse/internal/domain/models"
	httpclient "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/queue"
)

// NotifyJobType is the queue message type for webhook retries.
const NotifyJobType = "notify.webhook"

// DefaultRetryDelays is the wait before each successive webhook retry.
var DefaultRetryDelays = []time.Duration{
	15 * time.Second, 15 * time.Second, 30 * time.Second, 3 * time.Minute,
	10 * time.Minute, 20 * time.Minute, time.Hour, 2 * time.Hour,
}

// NotifyRequest is the signed webhook body.
type NotifyRequest struct {
	Type      string `json:"type"`
	DrawTime  string `json:"drawTime"`
	DrawIndex string `json:"drawIndex"`
	Sign      string `json:"sign"`
}

type notifyResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// NotifyConfig configures the webhook stage.
type NotifyConfig struct {
	URL         string
	Secret      string
	Location    *time.Location
	RetryDelays []time.Duration
}

// Retrier schedules a webhook retry after failures failed attempts.
type Retrier interface {
	Retry(ctx context.Context, req NotifyRequest, failures int, delay time.Duration) error
	Close()
}

// NotifyStage posts a signed notification for each quarter-hour minute bar.
// The first attempt runs inline; retries run on the Retrier and never block
// the dispatcher.
type NotifyStage struct {
	cfg     NotifyConfig
	client  *httpclient.Client
	logger  *applogger.Logger
	retrier Retrier
}

func NewNotifyStage(cfg NotifyConfig, client *httpclient.Client, logger *applogger.Logger) *NotifyStage {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = DefaultRetryDelays
	}
	s := &NotifyStage{cfg: cfg, client: client, logger: logger}
	s.retrier = newTimerRetrier(s)
	return s
}

// UseQueue moves retries onto the Redis queue. The queue must have the
// stage's job registered.
func (s *NotifyStage) UseQueue(q *queue.RedisQueue) {
	s.retrier.Close()
	s.retrier = &queueRetrier{q: q}
}

// Job returns the queue job that replays webhook retries.
func (s *NotifyStage) Job() queue.Job { return notifyJob{stage: s} }

func (s *NotifyStage) Name() string { return "notify" }

func (s *NotifyStage) Handle(ctx context.Context, ev *models.MarketEvent) error {
	local := ev.Timestamp.In(s.cfg.Location)
	if local.Second() != 0 || local.Minute()%15 != 0 {
		return nil
	}

	req := s.buildRequest(ev, local)
	err := s.send(ctx, req)
	if err == nil {
		return nil
	}
	s.scheduleRetry(ctx, req, 1)
	return err
}

func (s *NotifyStage) buildRequest(ev *models.MarketEvent, local time.Time) NotifyRequest {
	typ := ev.SourceID
	if typ == "" {
		typ = "unknown"
	}
	req := NotifyRequest{
		Type:      typ,
		DrawTime:  local.Format("2006-01-02 15:04:05"),
		DrawIndex: decimal.NewFromFloat(ev.Price).String(),
	}
	req.Sign = Sign(map[string]string{
		"type":      req.Type,
		"drawTime":  req.DrawTime,
		"drawIndex": req.DrawIndex,
	}, s.cfg.Secret)
	return req
}

// Sign joins the values ordered by key with "&", appends "&" and the
// secret, and returns the upper-case MD5 hex digest.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		values = append(values, params[k])
	}
	values = append(values, secret)
	sum := md5.Sum([]byte(strings.Join(values, "&")))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (s *NotifyStage) send(ctx context.Context, req NotifyRequest) error {
	var resp notifyResponse
	err := s.client.SendAndParse(ctx, &httpclient.RequestOptions{
		URL: s.cfg.URL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "MarketPulse/1.0",
		},
		Body: req,
	}, &resp)
	if err != nil {
		return fmt.Errorf("notify %s: %w", req.DrawTime, err)
	}
	if resp.Code != 200 {
		return fmt.Errorf("notify %s: remote code=%d msg=%s", req.DrawTime, resp.Code, resp.Msg)
	}
	s.logger.Info("webhook notified",
		applogger.String("draw_time", req.DrawTime),
		applogger.String("draw_index", req.DrawIndex))
	return nil
}

// scheduleRetry queues the retry that follows the given number of failures.
func (s *NotifyStage) scheduleRetry(ctx context.Context, req NotifyRequest, failures int) {
	if failures > len(s.cfg.RetryDelays) {
		s.logger.Error("webhook notification abandoned",
			applogger.String("draw_time", req.DrawTime),
			applogger.Int("attempts", failures))
		return
	}
	delay := s.cfg.RetryDelays[failures-1]
	if err := s.retrier.Retry(ctx, req, failures, delay); err != nil {
		s.logger.Error("schedule webhook retry failed",
			applogger.String("draw_time", req.DrawTime),
			applogger.Error(err))
		return
	}
	s.logger.Info("webhook retry scheduled",
		applogger.String("draw_time", req.DrawTime),
		applogger.Int("attempt", failures+1),
		applogger.Duration("delay", delay))
}

// Close cancels pending in-process retries.
func (s *NotifyStage) Close() { s.retrier.Close() }

type timerRetrier struct {
	stage  *NotifyStage
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func newTimerRetrier(s *NotifyStage) *timerRetrier {
	return &timerRetrier{stage: s, timers: make(map[*time.Timer]struct{})}
}

func (r *timerRetrier) Retry(_ context.Context, req NotifyRequest, failures int, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("retrier closed")
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, t)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := r.stage.send(ctx, req); err != nil {
			r.stage.logger.Warn("webhook retry failed",
				applogger.Int("attempt", failures+1),
				applogger.Error(err))
			r.stage.scheduleRetry(ctx, req, failures+1)
		}
	})
	r.timers[t] = struct{}{}
	return nil
}

func (r *timerRetrier) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[*time.Timer]struct{})
}

type queueRetrier struct {
	q *queue.RedisQueue
}

func (r *queueRetrier) Retry(ctx context.Context, req NotifyRequest, failures int, delay time.Duration) error {
	return r.q.EnqueueAt(ctx, NotifyJobType, req, time.Now().Add(delay), failures)
}

// Close is a no-op; the queue owns its lifecycle.
func (r *queueRetrier) Close() {}

// notifyJob replays a webhook from the queue. A returned error lets the
// queue schedule the next retry from its own schedule.
type notifyJob struct {
	stage *NotifyStage
}

func (j notifyJob) Name() string { return "webhook-notify" }
func (j notifyJob) Type() string { return NotifyJobType }

func (j notifyJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[NotifyRequest](payload)
	if err != nil {
		return err
	}
	return j.stage.send(ctx, req)
}
