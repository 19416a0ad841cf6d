package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
)

type recordStage struct {
	name string
	err  error
	boom bool
	seen *[]string
}

func (s recordStage) Name() string { return s.name }

func (s recordStage) Handle(ctx context.Context, ev *models.MarketEvent) error {
	*s.seen = append(*s.seen, s.name)
	if s.boom {
		panic("stage exploded")
	}
	return s.err
}

func TestNotifyIsolatesFailures(t *testing.T) {
	var seen []string
	d := New(nil)
	d.Attach(recordStage{name: "console", seen: &seen})
	d.Attach(recordStage{name: "notify", err: errors.New("webhook down"), seen: &seen})
	d.Attach(recordStage{name: "publish", boom: true, seen: &seen})
	d.Attach(recordStage{name: "broadcast", seen: &seen})

	d.Notify(context.Background(), &models.MarketEvent{Symbol: "HSI", Price: 1, Timestamp: time.Now()})

	want := []string{"console", "notify", "publish", "broadcast"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestDetach(t *testing.T) {
	var seen []string
	d := New(nil)
	d.Attach(recordStage{name: "a", seen: &seen})
	d.Attach(recordStage{name: "b", seen: &seen})

	if !d.Detach("a") || d.Detach("missing") {
		t.Fatalf("unexpected detach result")
	}
	d.Notify(context.Background(), &models.MarketEvent{Symbol: "HSI"})
	if len(seen) != 1 || seen[0] != "b" {
		t.Fatalf("expected only b, got %v", seen)
	}
	if names := d.Stages(); len(names) != 1 || names[0] != "b" {
		t.Fatalf("unexpected stages %v", names)
	}
}
