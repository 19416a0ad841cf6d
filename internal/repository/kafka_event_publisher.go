package repository

import (
	"context"
	"fmt"

	"MarketPulse/internal/domain/models"
)

// messagePublisher is the subset of pkg/kafka.Producer used here.
type messagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaEventPublisher writes events as JSON keyed by symbol, so a symbol's
// events stay on one partition.
type KafkaEventPublisher struct {
	producer messagePublisher
	topic    string
}

func NewKafkaEventPublisher(producer messagePublisher, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev *models.MarketEvent) error {
	if ev == nil {
		return nil
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(ev.Symbol), ev); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Symbol, p.topic, err)
	}
	return nil
}

// Close leaves the producer open; it is shared with the log collector and
// closed by the app.
func (p *KafkaEventPublisher) Close() error { return nil }
