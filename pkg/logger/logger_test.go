package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches []*LogBatch
}

func (p *capturePublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.(*LogBatch))
	return nil
}

func TestFieldValues(t *testing.T) {
	cases := []struct {
		f    Field
		want interface{}
	}{
		{String("market", "HK"), "HK"},
		{Int("n", 3), int64(3)},
		{Duration("took", 1500*time.Millisecond), int64(1500)},
		{Bool("ok", true), true},
		{Error(errors.New("boom")), "boom"},
		{Error(nil), nil},
		{Strings("ids", []string{"a", "b"}), "a, b"},
	}
	for _, tc := range cases {
		if got := tc.f.Value(); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.f.Key, got, tc.want)
		}
	}
	if Error(nil).Key != "error" {
		t.Fatalf("error field key should be %q", "error")
	}
}

func TestCollectorFoldsRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("fetch failed", String("market", "HK"))
	}
	l.Error("fetch failed", String("market", "US"))
	if n := l.collector.Pending(); n != 2 {
		t.Fatalf("expected 2 distinct entries, got %d", n)
	}

	l.RemoveCollector()
	if len(pub.batches) != 1 || pub.topic != "logs" {
		t.Fatalf("expected one batch on logs, got %d on %q", len(pub.batches), pub.topic)
	}
	entries := pub.batches[0].Entries
	if len(entries) != 2 || entries[0].Count != 3 || entries[1].Count != 1 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Caller == "" || entries[0].Caller == "unknown" {
		t.Fatalf("caller not recorded: %q", entries[0].Caller)
	}
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	if n := c.Pending(); n != 0 {
		t.Fatalf("threshold should drain the window, %d pending", n)
	}
	c.Close()
	if len(pub.batches) != 1 || len(pub.batches[0].Entries) != 2 {
		t.Fatalf("expected one batch of 2, got %+v", pub.batches)
	}
}
