package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestLoggingHookTagsContext(t *testing.T) {
	h := NewLoggingHook(nil)
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}

	ctx, _, data, err := h.BeforeHandle(context.Background(), "market.events.in", km, []byte("{}"))
	if err != nil || string(data) != "{}" {
		t.Fatalf("before: %v %q", err, data)
	}
	if id, _ := ctx.Value(CtxTraceID).(string); id != "abc" {
		t.Fatalf("trace id not set: %q", id)
	}
	if _, ok := ctx.Value(CtxStartTime).(time.Time); !ok {
		t.Fatalf("start time not set")
	}
	h.OnError(ctx, "market.events.in", km, nil, errors.New("bad payload"))
}

func TestHookChainStopsOnBeforeError(t *testing.T) {
	var onErr, after int
	failing := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			return ctx, km, data, &HookError{Code: "ERR_VALIDATION", Err: errors.New("bad")}
		},
	}
	counting := HookFuncs{
		After: func(context.Context, string, kafka.Message, []byte, error) { after++ },
		Err:   func(context.Context, string, kafka.Message, []byte, error) { onErr++ },
	}
	chain := NewHookChain(counting, failing)

	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	if !errors.As(err, &he) || he.Code != "ERR_VALIDATION" {
		t.Fatalf("expected hook error, got %v", err)
	}
	if onErr != 1 {
		t.Fatalf("OnError calls = %d, want 1", onErr)
	}
	chain.AfterHandle(context.Background(), "t", kafka.Message{}, nil, nil)
	if after != 1 {
		t.Fatalf("AfterHandle calls = %d, want 1", after)
	}
}
