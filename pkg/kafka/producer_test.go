package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestParseCompression(t *testing.T) {
	cases := map[string]kafka.Compression{
		"":     0,
		"none": 0,
		"gzip": kafka.Gzip,
		"zstd": kafka.Zstd,
	}
	for in, want := range cases {
		got, err := parseCompression(in)
		if err != nil || got != want {
			t.Errorf("parseCompression(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseCompression("brotli"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]float64{"price": 1.5})
	if err != nil || string(b) != `{"price":1.5}` {
		t.Fatalf("json encode: %s %v", b, err)
	}
	if b, _ := encodeValue("raw"); string(b) != "raw" {
		t.Fatalf("string passthrough: %s", b)
	}
	if _, err := encodeValue(make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatalf("expected error without brokers")
	}
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("none"))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	_ = p.Close()
}
