package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	pkgkafka "MarketPulse/pkg/kafka"
)

// KafkaEventsHandler feeds market events published by upstream instances
// into the local pipeline.
type KafkaEventsHandler struct {
	topic    string
	observer drepo.Observer
	metrics  drepo.Metrics
}

func NewKafkaEventsHandler(topic string, observer drepo.Observer, metrics drepo.Metrics) *KafkaEventsHandler {
	return &KafkaEventsHandler{topic: topic, observer: observer, metrics: metrics}
}

func (h *KafkaEventsHandler) Topic() string { return h.topic }

// Handle decodes one MarketEvent. Malformed messages are permanent failures:
// the consumer parks them in its DLQ without retrying.
func (h *KafkaEventsHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.MarketEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode market event: %w", err))
	}
	if ev.Kind == "" {
		ev.Kind = models.KindRealtime
	}
	if !models.IsValidKind(ev.Kind) {
		h.metrics.RecordError("consumer_kind")
		return pkgkafka.Permanent(fmt.Errorf("unknown data type %q", ev.Kind))
	}
	if !ev.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ev.Timestamp).Seconds())
	}
	h.observer.Notify(ctx, &ev)
	return nil
}
