package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
)

func TestKlineRowEvent(t *testing.T) {
	sh, _ := time.LoadLocation("Asia/Shanghai")
	r := klineRow{
		Bucket: time.Date(2024, 1, 2, 2, 15, 0, 0, time.UTC),
		Symbol: "HSI", Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 100,
	}
	ev := r.event(sh)
	if ev.Kind != models.KindKline1m || ev.Price != 2 || *ev.Close != 2 || *ev.Volume != 100 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Timestamp.Location() != sh || ev.Timestamp.Hour() != 10 {
		t.Fatalf("bar not rendered in Shanghai: %v", ev.Timestamp)
	}
}

type fakeProducer struct {
	topic string
	key   []byte
	value interface{}
	err   error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	f.topic, f.key, f.value = topic, key, value
	return f.err
}

func (f *fakeProducer) Close() error { return nil }

func TestKafkaEventPublisherKeysBySymbol(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaEventPublisher(fp, "market.events")
	ev := &models.MarketEvent{Symbol: "NASDAQ", Price: 1}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fp.topic != "market.events" || string(fp.key) != "NASDAQ" || fp.value != ev {
		t.Fatalf("unexpected publish %+v", fp)
	}

	fp.err = errors.New("broker down")
	if err := p.Publish(context.Background(), ev); !errors.Is(err, fp.err) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestKlineInsertSkipsIncompleteBars(t *testing.T) {
	at := time.Date(2024, 1, 2, 10, 15, 30, 0, time.UTC)
	bars := []models.MarketEvent{
		{Symbol: "HSI", Timestamp: at, Open: models.Float(1), High: models.Float(2), Low: models.Float(0.5), Close: models.Float(1.5)},
		{Symbol: "HSI", Timestamp: at, Price: 1},
		{Symbol: "", Timestamp: at, Open: models.Float(1), High: models.Float(1), Low: models.Float(1), Close: models.Float(1)},
	}
	q, args := klineInsert(bars)
	if len(args) != 7 {
		t.Fatalf("expected one row, got %d args", len(args))
	}
	if strings.Count(q, "(?, ?, ?, ?, ?, ?, ?)") != 1 {
		t.Fatalf("unexpected query %q", q)
	}
	if ts := args[0].(time.Time); ts.Second() != 0 || ts.Minute() != 15 {
		t.Fatalf("bucket not truncated to the minute: %v", ts)
	}
	if vol := args[6].(float64); vol != 0 {
		t.Fatalf("missing volume should store 0, got %v", vol)
	}
}
