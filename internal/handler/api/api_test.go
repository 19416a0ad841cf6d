package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/broadcast"
	"MarketPulse/internal/calendar"
	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

type feed struct{}

func (feed) FetchRules(ctx context.Context, key string) ([]models.TradingRule, error) {
	return []models.TradingRule{{DatePattern: "*", StartTime: "00:00:00", EndTime: "24:00:00", Description: "交易中"}}, nil
}

type src struct{}

func (src) Info() models.SourceInfo {
	return models.SourceInfo{ID: "wen_cai", Name: "WenCai", SupportedMarkets: []string{"HSI"}}
}
func (src) Attach(drepo.Observer)           {}
func (src) Detach(drepo.Observer)           {}
func (src) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (src) Stop() error                     { return nil }
func (src) Latest(ctx context.Context, market string, kind models.DataKind) (*models.MarketEvent, error) {
	return &models.MarketEvent{SourceID: "wen_cai", Symbol: market, Kind: kind, Price: 42}, nil
}

func newEcho(t *testing.T, b *broadcast.Broadcaster) *echo.Echo {
	t.Helper()
	reg, err := calendar.NewRegistry(calendar.DefaultMarketSpecs(), calendar.DefaultAliases())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cache := calendar.NewCache(feed{}, reg)
	svc := usecase.NewMarketService(usecase.MarketServiceDeps{
		Sources:  []drepo.QuoteSource{src{}},
		Cache:    cache,
		Resolver: calendar.NewResolver(cache, reg),
		Opening:  calendar.NewOpeningSearch(cache, reg),
		Schedule: calendar.NewSchedule(cache, reg),
	})
	stream := NewStreamHandler(xlogger.Nop(), b, ratelimit.New(), StreamLimits{Burst: 1, RefillPerSec: 0.001})
	e := echo.New()
	NewSourcesHandler(xlogger.Nop(), svc, stream).RegisterRoutes(e)
	return e
}

func get(t *testing.T, e *echo.Echo, path string) xhttp.APIResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var out xhttp.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return out
}

func TestSourceEndpoints(t *testing.T) {
	b := broadcast.New(broadcast.Config{})
	defer b.Close()
	e := newEcho(t, b)

	if r := get(t, e, "/api/sources"); r.Status != http.StatusOK {
		t.Fatalf("list: %+v", r)
	}
	r := get(t, e, "/api/sources/wen_cai/market-status/HSI")
	data, _ := r.Data.(map[string]any)
	if r.Status != http.StatusOK || data["is_open"] != true {
		t.Fatalf("status: %+v", r)
	}
	if r := get(t, e, "/api/sources/wen_cai/market-status/LSE"); r.Status != http.StatusBadRequest {
		t.Fatalf("unknown market should be 400: %+v", r)
	}
	if r := get(t, e, "/api/sources/other/market-status/HSI"); r.Status != http.StatusNotFound {
		t.Fatalf("unknown source should be 404: %+v", r)
	}
	r = get(t, e, "/api/sources/wen_cai/latest/HSI/realtime")
	data, _ = r.Data.(map[string]any)
	if r.Status != http.StatusOK || data["price"] != 42.0 {
		t.Fatalf("latest: %+v", r)
	}
	if r := get(t, e, "/health"); r.Status != http.StatusOK {
		t.Fatalf("health: %+v", r)
	}
}

func TestStreamDeliversFilteredEvents(t *testing.T) {
	b := broadcast.New(broadcast.Config{ConsumeTimeout: 50 * time.Millisecond})
	defer b.Close()
	srv := httptest.NewServer(newEcho(t, b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sources/stream?markets=HSI&data_types=realtime", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var events []string
	sent := false
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		name := strings.TrimPrefix(line, "event: ")
		events = append(events, name)
		if name == "connected" && !sent {
			b.Broadcast(&models.MarketEvent{SourceID: "wen_cai", Symbol: "NASDAQ", Kind: models.KindRealtime, Price: 1, Timestamp: time.Now()})
			b.Broadcast(&models.MarketEvent{SourceID: "wen_cai", Symbol: "HSI", Kind: models.KindRealtime, Price: 2, Timestamp: time.Now()})
			sent = true
		}
		if name == "market_data" {
			sc.Scan()
			if !strings.Contains(sc.Text(), `"symbol":"HSI"`) || !strings.Contains(sc.Text(), `"event":"market_data"`) {
				t.Fatalf("unexpected payload %s", sc.Text())
			}
		}
		if name == "heartbeat" {
			break
		}
	}
	if len(events) < 3 || events[0] != "connected" || events[1] != "market_data" || events[2] != "heartbeat" {
		t.Fatalf("unexpected event sequence %v", events)
	}
	if st := b.Stats(); st.TotalConnections != 1 || st.TotalDataSent != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestStreamRateLimitedPerIP(t *testing.T) {
	b := broadcast.New(broadcast.Config{})
	defer b.Close()
	e := newEcho(t, b)
	h := NewStreamHandler(xlogger.Nop(), b, ratelimit.New(), StreamLimits{Burst: 1, RefillPerSec: 0.001})
	_ = e

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/sources/stream", nil).WithContext(ctx), rec)
	if err := h.Stream(c); err != nil {
		t.Fatalf("first stream: %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/sources/stream", nil), rec)
	_ = h.Stream(c)
	var out xhttp.APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %s", rec.Body.String())
	}
}
