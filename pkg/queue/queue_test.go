package queue

import (
	"encoding/json"
	"testing"
	"time"
)

type webhook struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func TestRetryDelayFollowsSchedule(t *testing.T) {
	q := &RedisQueue{config: &QueueConfig{
		RetrySchedule: []time.Duration{15 * time.Second, 30 * time.Second, time.Hour},
	}}
	cases := map[int]time.Duration{
		0: 15 * time.Second,
		1: 15 * time.Second,
		2: 30 * time.Second,
		3: time.Hour,
		9: time.Hour,
	}
	for attempts, want := range cases {
		if got := q.retryDelay(attempts); got != want {
			t.Fatalf("attempt %d: got %v want %v", attempts, got, want)
		}
	}
}

func TestRetryDelayFallsBackToFixed(t *testing.T) {
	q := NewRedisQueue(nil, &QueueConfig{RetryDelay: 10 * time.Second}, nil)
	if got := q.retryDelay(3); got != 10*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestNewRedisQueueDefaults(t *testing.T) {
	sched := []time.Duration{time.Second, 2 * time.Second}
	q := NewRedisQueue(nil, &QueueConfig{RetrySchedule: sched}, nil, WithKeyPrefix("mp:queue"))
	if q.config.RetryLimit != 2 || q.config.Workers != 1 || q.config.DeadLetterMax != 1000 {
		t.Fatalf("unexpected defaults %+v", q.config)
	}
	if q.queueKey() != "mp:queue:messages" || q.retryKey() != "mp:queue:retry" || q.deadLetterKey() != "mp:queue:dlq" {
		t.Fatalf("unexpected keys")
	}
}

func TestEnqueueRequiresRunningQueue(t *testing.T) {
	q := NewRedisQueue(nil, nil, nil)
	if _, err := q.envelope("webhook", webhook{}, 0); err == nil {
		t.Fatalf("expected error before start")
	}
}

func TestMessageEnvelopeRoundTrip(t *testing.T) {
	raw, _ := json.Marshal(webhook{Symbol: "HSI", Price: "17000.5"})
	b, err := json.Marshal(Message{ID: "1", Type: "webhook", Payload: raw, Attempts: 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := Decode[webhook](msg.Payload)
	if err != nil || got.Symbol != "HSI" || got.Price != "17000.5" || msg.Attempts != 2 {
		t.Fatalf("unexpected payload %+v %v", got, err)
	}
	if _, err := Decode[webhook](json.RawMessage(`[1]`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
