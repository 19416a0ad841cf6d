package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

func TestOptions(t *testing.T) {
	o := options(ClientConfig{
		Host:        "ch.local",
		Port:        9000,
		Database:    "marketpulse",
		User:        "default",
		Password:    "p@ss",
		DialTimeout: 5 * time.Second,
		ReadTimeout: 10 * time.Second,
		MaxExecTime: 30 * time.Second,
	})
	if len(o.Addr) != 1 || o.Addr[0] != "ch.local:9000" {
		t.Fatalf("unexpected addr %v", o.Addr)
	}
	if o.Auth.Database != "marketpulse" || o.Auth.Password != "p@ss" {
		t.Fatalf("unexpected auth %+v", o.Auth)
	}
	if o.Protocol != ch.Native || o.DialTimeout != 5*time.Second {
		t.Fatalf("unexpected protocol or timeout: %v %v", o.Protocol, o.DialTimeout)
	}
	if o.Settings["max_execution_time"] != 30 {
		t.Fatalf("unexpected settings %v", o.Settings)
	}
}

func TestOptionsHTTP(t *testing.T) {
	o := options(ClientConfig{Host: "ch", Port: 8123, Database: "default", User: "u", UseHTTP: true})
	if o.Protocol != ch.HTTP || o.Settings != nil {
		t.Fatalf("unexpected http options %+v", o)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatalf("expected error without host")
	}
}
