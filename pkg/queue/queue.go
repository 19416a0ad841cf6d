package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job handles one message type.
type Job interface {
	Name() string
	// Type is the message type routed to this job.
	Type() string
	// Handle processes a payload. A returned error schedules the next retry.
	Handle(ctx context.Context, payload json.RawMessage) error
}

// QueueConfig contains the configuration for the queue.
type QueueConfig struct {
	Workers int
	// RetryLimit caps retries per message; it defaults to len(RetrySchedule).
	RetryLimit int
	// RetryDelay is used when RetrySchedule is empty.
	RetryDelay time.Duration
	// RetrySchedule holds the delay before each successive retry. The last
	// entry repeats if RetryLimit exceeds its length.
	RetrySchedule []time.Duration
	// PollInterval is how often due retries are promoted to the work list.
	PollInterval time.Duration
	// DeadLetterMax bounds the dead-letter list.
	DeadLetterMax int64
}

// Message is the stored envelope. Attempts counts failed deliveries.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals a payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
