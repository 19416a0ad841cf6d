package sina

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"

	httpclient "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

const hkCalendar = `var hq_str_market_stock_hk="HK|*,09:30:00,12:00:00,交易;*,13:00:00,16:00:00;2024-02-12,00:00:00,24:00:00,春节休市;bad;";`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules(hkCalendar, "hk", DefaultOpenText)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d: %+v", len(rules), rules)
	}
	if rules[1].Description != DefaultOpenText {
		t.Fatalf("missing description should default, got %q", rules[1].Description)
	}
	if rules[2].DatePattern != "2024-02-12" || rules[2].EndTime != "24:00:00" || rules[2].Description != "春节休市" {
		t.Fatalf("unexpected rule %+v", rules[2])
	}

	if _, err := ParseRules(hkCalendar, "nsq", DefaultOpenText); err == nil {
		t.Fatalf("expected error for missing block")
	}
}

func TestCalendarFeedDecodesGBK(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().String(hkCalendar)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("list") != "market_stock_hk" || r.URL.Query().Get("random") == "" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(gbk))
	}))
	defer srv.Close()

	feed := NewCalendarFeed(httpclient.NewClient(httpclient.WithTimeout(time.Second)), srv.URL, "")
	rules, err := feed.FetchRules(context.Background(), "hk")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rules) != 3 || rules[2].Description != "春节休市" {
		t.Fatalf("unexpected rules %+v", rules)
	}
}

func hkRecord() string {
	f := make([]string, 19)
	f[hkNameIdx] = "恒生指数"
	f[hkPriceIdx] = "16800.50"
	f[hkDateIdx] = "2024/01/02"
	f[hkTimeIdx] = "10:15:00"
	return strings.Join(f, ",")
}

func usRecord() string {
	f := make([]string, 30)
	f[usNameIdx] = "纳斯达克"
	f[usPriceIdx] = "15011.35"
	f[usDateTimeIdx] = "Jul 21 05:15PM EDT"
	f[usYearIdx] = "2025"
	return strings.Join(f, ",")
}

func TestQuoteClientParsesHKAndUS(t *testing.T) {
	body := `var hq_str_rt_hkHSI="` + hkRecord() + `";` + "\n" +
		`var hq_str_gb_ixic="` + usRecord() + `";` + "\n" +
		`var hq_str_gb_other="x";`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	shanghai, _ := time.LoadLocation("Asia/Shanghai")
	c := NewQuoteClient(httpclient.NewClient(), srv.URL, shanghai, applogger.Nop())
	quotes, err := c.FetchQuotes(context.Background(), []string{"rt_hkHSI", "gb_ixic"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}

	hk := quotes["rt_hkHSI"]
	if hk.Price != 16800.50 || !hk.Timestamp.Equal(time.Date(2024, 1, 2, 10, 15, 0, 0, shanghai)) {
		t.Fatalf("unexpected hk quote %+v", hk)
	}

	us := quotes["gb_ixic"]
	// 17:15 EDT is 05:15 the next day in Shanghai.
	if us.Price != 15011.35 || !us.Timestamp.Equal(time.Date(2025, 7, 22, 5, 15, 0, 0, shanghai)) {
		t.Fatalf("unexpected us quote %+v", us)
	}
}

func TestQuoteClientSkipsShortRecords(t *testing.T) {
	c := NewQuoteClient(nil, "", time.UTC, applogger.Nop())
	got := c.parse(`var hq_str_rt_hkHSI="a,b,c";`, []string{"rt_hkHSI"})
	if len(got) != 0 {
		t.Fatalf("expected short record to be skipped, got %+v", got)
	}
}
