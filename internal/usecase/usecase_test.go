package usecase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/calendar"
	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	icache "MarketPulse/internal/service/cache"
	"MarketPulse/internal/source"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
)

type staticFeed map[string][]models.TradingRule

func (f staticFeed) FetchRules(ctx context.Context, key string) ([]models.TradingRule, error) {
	return f[key], nil
}

type stubSource struct {
	id      string
	mu      sync.Mutex
	obs     []drepo.Observer
	started chan struct{}
	stopped chan struct{}
	once    sync.Once
	latest  func(market string, kind models.DataKind) (*models.MarketEvent, error)
}

func newStubSource(id string) *stubSource {
	return &stubSource{id: id, started: make(chan struct{}, 1), stopped: make(chan struct{})}
}

func (s *stubSource) Info() models.SourceInfo {
	return models.SourceInfo{ID: s.id, Name: s.id, SupportedMarkets: []string{"HSI"}}
}

func (s *stubSource) Attach(o drepo.Observer) {
	s.mu.Lock()
	s.obs = append(s.obs, o)
	s.mu.Unlock()
}

func (s *stubSource) Detach(o drepo.Observer) {}

func (s *stubSource) Start(ctx context.Context) error {
	s.mu.Lock()
	obs := append([]drepo.Observer(nil), s.obs...)
	s.mu.Unlock()
	for _, o := range obs {
		o.Notify(ctx, &models.MarketEvent{SourceID: s.id, Symbol: "HSI", Price: 1})
	}
	s.started <- struct{}{}
	select {
	case <-ctx.Done():
	case <-s.stopped:
	}
	return nil
}

func (s *stubSource) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *stubSource) Latest(ctx context.Context, market string, kind models.DataKind) (*models.MarketEvent, error) {
	return s.latest(market, kind)
}

type countingObserver struct {
	mu  sync.Mutex
	evs []*models.MarketEvent
}

func (c *countingObserver) Notify(ctx context.Context, ev *models.MarketEvent) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *countingObserver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evs)
}

func newService(t *testing.T, now time.Time, src *stubSource) *MarketService {
	t.Helper()
	reg, err := calendar.NewRegistry(calendar.DefaultMarketSpecs(), calendar.DefaultAliases())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	feed := staticFeed{"hk": {
		{DatePattern: "*", StartTime: "09:30:00", EndTime: "16:00:00", Description: "交易中"},
		{DatePattern: "2024-02-12", StartTime: "00:00:00", EndTime: "24:00:00", Description: "休市"},
	}}
	cache := calendar.NewCache(feed, reg)
	clock := calendar.WithClock(func() time.Time { return now })
	return NewMarketService(MarketServiceDeps{
		Sources:     []drepo.QuoteSource{src},
		Cache:       cache,
		Resolver:    calendar.NewResolver(cache, reg, clock),
		Opening:     calendar.NewOpeningSearch(cache, reg, clock),
		Schedule:    calendar.NewSchedule(cache, reg, clock),
		Responses:   icache.NewTTLCache(),
		ResponseTTL: time.Minute,
		Logger:      applogger.Nop(),
	})
}

func appStatus(err error) int {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}

func TestMarketServiceStatus(t *testing.T) {
	hk, _ := time.LoadLocation("Asia/Hong_Kong")
	svc := newService(t, time.Date(2024, 1, 2, 10, 0, 0, 0, hk), newStubSource("wen_cai"))
	ctx := context.Background()

	st, err := svc.MarketStatus(ctx, "wen_cai", "HSI", "")
	if err != nil || !st.IsOpen {
		t.Fatalf("expected open, got %+v %v", st, err)
	}
	st, err = svc.MarketStatus(ctx, "wen_cai", "HK", "2024-02-12T10:00:00+08:00")
	if err != nil || st.IsOpen {
		t.Fatalf("expected holiday closed, got %+v %v", st, err)
	}
	st, err = svc.MarketStatus(ctx, "wen_cai", "HK", "2024-01-02 20:00:00")
	if err != nil || st.IsOpen {
		t.Fatalf("expected closed in the evening, got %+v %v", st, err)
	}

	if _, err := svc.MarketStatus(ctx, "wen_cai", "LSE", ""); appStatus(err) != http.StatusBadRequest {
		t.Fatalf("unknown market should be 400, got %v", err)
	}
	if _, err := svc.MarketStatus(ctx, "wen_cai", "HK", "yesterday"); appStatus(err) != http.StatusBadRequest {
		t.Fatalf("bad check_time should be 400, got %v", err)
	}
	if _, err := svc.MarketStatus(ctx, "nope", "HK", ""); appStatus(err) != http.StatusNotFound {
		t.Fatalf("unknown source should be 404, got %v", err)
	}
}

func TestMarketServiceOpeningAndHours(t *testing.T) {
	hk, _ := time.LoadLocation("Asia/Hong_Kong")
	svc := newService(t, time.Date(2024, 2, 11, 17, 0, 0, 0, hk), newStubSource("wen_cai"))
	ctx := context.Background()

	res, err := svc.NextOpening(ctx, "wen_cai", "HK")
	if err != nil || !res.Found || res.Rule.DatePattern != "2024-02-13" {
		t.Fatalf("expected opening on the 13th, got %+v %v", res, err)
	}

	days, err := svc.TradingHours(ctx, "wen_cai", "HK")
	if err != nil || len(days) != 1 || days[0].Description != "休市" {
		t.Fatalf("unexpected trading hours %+v %v", days, err)
	}
	days, err = svc.SpecialHolidays(ctx, "wen_cai", "HK", "UTC")
	if err != nil || len(days) != 1 || days[0].Start.Hour() != 16 {
		t.Fatalf("expected UTC rendering, got %+v %v", days, err)
	}
	if _, err := svc.SpecialHolidays(ctx, "wen_cai", "HK", "Mars/Base"); appStatus(err) != http.StatusBadRequest {
		t.Fatalf("bad tz should be 400, got %v", err)
	}
	if err := svc.ClearCalendar(ctx, "wen_cai"); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestMarketServiceLatestErrors(t *testing.T) {
	src := newStubSource("wen_cai")
	src.latest = func(market string, kind models.DataKind) (*models.MarketEvent, error) {
		switch {
		case market != "HSI":
			return nil, source.ErrUnsupportedMarket
		case kind != models.KindRealtime:
			return nil, source.ErrUnsupportedKind
		}
		return &models.MarketEvent{Symbol: "HSI", Price: 1}, nil
	}
	svc := newService(t, time.Now(), src)
	ctx := context.Background()

	if ev, err := svc.Latest(ctx, "wen_cai", "HSI", "realtime"); err != nil || ev.Price != 1 {
		t.Fatalf("latest: %+v %v", ev, err)
	}
	cases := map[string][2]string{
		"bad kind":        {"HSI", "tick"},
		"unsupported mkt": {"DAX", "realtime"},
		"unsupported knd": {"HSI", "kline1d"},
	}
	for name, c := range cases {
		if _, err := svc.Latest(ctx, "wen_cai", c[0], c[1]); appStatus(err) != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", name, err)
		}
	}
}

func TestQuoteCollectorRunsAndStops(t *testing.T) {
	a, b := newStubSource("a"), newStubSource("b")
	obs := &countingObserver{}
	c := NewQuoteCollector([]drepo.QuoteSource{a, b}, obs, applogger.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-a.started
	<-b.started
	if obs.count() != 2 {
		t.Fatalf("expected one event per source, got %d", obs.count())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestKafkaEventsHandler(t *testing.T) {
	obs := &countingObserver{}
	h := NewKafkaEventsHandler("market.events.in", obs, metrics.Nop{})
	if h.Topic() != "market.events.in" {
		t.Fatalf("topic mismatch")
	}
	if err := h.Handle(context.Background(), []byte(`{"source":"x","symbol":"HSI","price":1,"timestamp":"2024-01-02T02:00:00Z"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if obs.count() != 1 || obs.evs[0].Kind != models.KindRealtime {
		t.Fatalf("expected defaulted realtime event, got %+v", obs.evs)
	}
	if err := h.Handle(context.Background(), []byte(`{"symbol":"HSI","type":"tick"}`)); !pkgkafka.IsPermanent(err) {
		t.Fatalf("expected unknown kind error")
	}
	if err := h.Handle(context.Background(), []byte(`not json`)); !pkgkafka.IsPermanent(err) {
		t.Fatalf("expected permanent decode error, got %v", err)
	}
}
