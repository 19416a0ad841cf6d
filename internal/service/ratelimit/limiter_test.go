package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterRefillsAndSweeps(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !l.Allow("10.0.0.1", 2, 1) {
			t.Fatalf("token %d should be allowed", i)
		}
	}
	if l.Allow("10.0.0.1", 2, 1) {
		t.Fatalf("bucket should be empty")
	}
	if !l.Allow("10.0.0.2", 2, 1) {
		t.Fatalf("keys must not share buckets")
	}

	now = now.Add(time.Second)
	if !l.Allow("10.0.0.1", 2, 1) {
		t.Fatalf("expected refill after one second")
	}

	now = now.Add(10 * time.Minute)
	if n := l.Sweep(time.Minute); n != 2 {
		t.Fatalf("expected both buckets swept, got %d", n)
	}
}
