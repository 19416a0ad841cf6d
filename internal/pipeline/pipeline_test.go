package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	httpclient "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

func TestSign(t *testing.T) {
	params := map[string]string{"type": "wen_cai", "drawTime": "2024-01-02 10:15:00", "drawIndex": "16800.5"}
	sum := md5.Sum([]byte("16800.5&2024-01-02 10:15:00&wen_cai&secret"))
	want := strings.ToUpper(hex.EncodeToString(sum[:]))
	if got := Sign(params, "secret"); got != want {
		t.Fatalf("sign=%s want %s", got, want)
	}
}

type webhook struct {
	mu    sync.Mutex
	got   []NotifyRequest
	fails int32
}

func (w *webhook) handler(rw http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	w.mu.Lock()
	w.got = append(w.got, req)
	w.mu.Unlock()
	if atomic.AddInt32(&w.fails, -1) >= 0 {
		_, _ = rw.Write([]byte(`{"code":500,"msg":"busy"}`))
		return
	}
	_, _ = rw.Write([]byte(`{"code":200,"msg":"ok"}`))
}

func (w *webhook) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.got)
}

func newStage(t *testing.T, url string, delays []time.Duration) *NotifyStage {
	t.Helper()
	return NewNotifyStage(NotifyConfig{
		URL:         url,
		Secret:      "secret",
		Location:    time.UTC,
		RetryDelays: delays,
	}, httpclient.NewClient(httpclient.WithTimeout(time.Second)), applogger.Nop())
}

func TestNotifyOnlyQuarterHourMinutes(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()
	s := newStage(t, srv.URL, nil)
	defer s.Close()

	at := func(hh, mm, ss int) *models.MarketEvent {
		return &models.MarketEvent{SourceID: "wen_cai", Symbol: "HSI", Price: 16800.5,
			Timestamp: time.Date(2024, 1, 2, hh, mm, ss, 0, time.UTC)}
	}
	for _, ev := range []*models.MarketEvent{at(10, 14, 0), at(10, 15, 30), at(10, 15, 0), at(10, 45, 0)} {
		if err := s.Handle(context.Background(), ev); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if hook.count() != 2 {
		t.Fatalf("expected 2 notifications, got %d", hook.count())
	}
	first := hook.got[0]
	if first.DrawTime != "2024-01-02 10:15:00" || first.DrawIndex != "16800.5" || first.Type != "wen_cai" {
		t.Fatalf("unexpected body %+v", first)
	}
	if first.Sign != Sign(map[string]string{"type": first.Type, "drawTime": first.DrawTime, "drawIndex": first.DrawIndex}, "secret") {
		t.Fatalf("bad sign %s", first.Sign)
	}
}

func TestNotifyRetriesInProcess(t *testing.T) {
	hook := &webhook{fails: 2}
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()
	s := newStage(t, srv.URL, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond})
	defer s.Close()

	ev := &models.MarketEvent{SourceID: "wen_cai", Symbol: "HSI", Price: 1, Timestamp: time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)}
	if err := s.Handle(context.Background(), ev); err == nil {
		t.Fatalf("expected first attempt to fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for hook.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := hook.count(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestNotifyGivesUpAfterSchedule(t *testing.T) {
	hook := &webhook{fails: 100}
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()
	s := newStage(t, srv.URL, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond})
	defer s.Close()

	ev := &models.MarketEvent{SourceID: "wen_cai", Symbol: "HSI", Price: 1, Timestamp: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
	_ = s.Handle(context.Background(), ev)
	time.Sleep(300 * time.Millisecond)
	if n := hook.count(); n != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", n)
	}
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, *models.MarketEvent) error {
	p.calls++
	return context.DeadlineExceeded
}
func (p *failingPublisher) Close() error { return nil }

func TestPublishStageWrapsError(t *testing.T) {
	pub := &failingPublisher{}
	err := NewPublishStage(pub).Handle(context.Background(), &models.MarketEvent{Symbol: "HSI"})
	if err == nil || !strings.Contains(err.Error(), "HSI") || pub.calls != 1 {
		t.Fatalf("unexpected %v", err)
	}
}

func TestConsoleFormats(t *testing.T) {
	ev := &models.MarketEvent{Symbol: "HSI", Kind: models.KindRealtime, Price: 1, Timestamp: time.Unix(0, 0).UTC()}
	for _, f := range []string{FormatSimple, FormatDetailed, FormatJSON, "other"} {
		msg, err := NewConsoleStage(applogger.Nop(), f).render(ev)
		if err != nil || !strings.Contains(msg, "HSI") {
			t.Fatalf("format %s: %q %v", f, msg, err)
		}
	}
}
