package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
)

func TestDecodeMapsSymbols(t *testing.T) {
	c := New(Config{APIKey: "k", URL: "ws://unused", Symbols: map[string]string{"QQQ": "NASDAQ"}}, applogger.Nop())
	evs := c.decode([]byte(`{"type":"trade","data":[{"s":"QQQ","p":400.5,"v":10,"t":1700000000000},{"s":"SPY","p":1,"v":1,"t":1}]}`))
	if len(evs) != 1 {
		t.Fatalf("expected one mapped event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.Symbol != "NASDAQ" || ev.SourceID != SourceID || ev.Kind != models.KindRealtime || ev.Price != 400.5 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Timestamp.Unix() != 1700000000 || ev.Volume == nil || *ev.Volume != 10 {
		t.Fatalf("unexpected timestamp/volume %+v", ev)
	}
	if got := c.decode([]byte(`{"type":"ping"}`)); len(got) != 0 {
		t.Fatalf("ping frame should decode to nothing")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if r.URL.Query().Get("token") != "token" {
			return
		}
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil || sub["symbol"] != "QQQ" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"QQQ","p":401,"v":1,"t":1700000000000}]}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := New(Config{
		APIKey:         "token",
		URL:            url,
		Symbols:        map[string]string{"QQQ": "NASDAQ"},
		ReconnectDelay: 10 * time.Millisecond,
		PingInterval:   time.Second,
	}, applogger.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	events, _ := s.Read(ctx)
	select {
	case ev := <-events:
		if ev == nil || ev.Price != 401 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("no event received")
	}
}

func TestReadWithoutConnect(t *testing.T) {
	c := New(Config{URL: "ws://unused"}, nil)
	events, errs := c.Read(context.Background())
	if err := <-errs; err == nil {
		t.Fatalf("expected not connected error")
	}
	if _, ok := <-events; ok {
		t.Fatalf("events channel should be closed")
	}
	if c.IsConnected() {
		t.Fatalf("client should not report connected")
	}
}
