package config

import (
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.Port != 8080 || c.Calendar.TTL != time.Hour || c.Broadcast.QueueCapacity != 100 {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Stages.Store.BatchSize != 100 || c.Stages.Store.FlushInterval != 10*time.Second {
		t.Fatalf("store defaults not applied: %+v", c.Stages.Store)
	}
	if c.Kafka.RequiredAcks != -1 || c.Stages.Console.Format != "simple" || !c.Source.WenCai.Enabled {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestParseOverridesAndValidates(t *testing.T) {
	c, err := Parse([]byte(`
environment: prod
broadcast:
  queue_capacity: 5
markets:
  - id: HK
    timezone: Asia/Hong_Kong
    feed_key: hk
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Broadcast.QueueCapacity != 5 || c.Broadcast.ConsumeTimeout != 30*time.Second {
		t.Fatalf("nested override lost defaults: %+v", c.Broadcast)
	}

	bad := []string{
		"environment: x\nlog:\n  level: loud\n",
		"environment: x\nstages:\n  notify:\n    enabled: true\n",
		"environment: x\nstages:\n  publish:\n    enabled: true\n",
		"environment: x\nstages:\n  store:\n    enabled: true\n",
		"environment: x\nmarkets:\n  - id: HK\n",
	}
	for _, b := range bad {
		if _, err := Parse([]byte(b)); err == nil {
			t.Errorf("expected validation error for %q", b)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	env := map[string]string{
		"KAFKA_BROKERS":   "a:9092,b:9092",
		"REDIS_ADDR":      "redis:6379",
		"NOTIFY_SECRET":   "s3cret",
		"FINNHUB_API_KEY": "key",
		"CLICKHOUSE_HOST": "ch",
	}
	c.applyEnv(func(k string) string { return env[k] })
	if len(c.Kafka.Brokers) != 2 || c.Redis.Addr != "redis:6379" || c.Stages.Notify.Secret != "s3cret" ||
		c.Finnhub.APIKey != "key" || c.ClickHouse.Host != "ch" {
		t.Fatalf("env not applied: %+v", c)
	}
}
