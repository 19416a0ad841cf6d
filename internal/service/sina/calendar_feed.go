package sina

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"MarketPulse/internal/domain/models"
	httpclient "MarketPulse/pkg/http"
)

// DefaultBaseURL is the vendor quote endpoint.
const DefaultBaseURL = "https://hq.sinajs.cn/"

// DefaultOpenText describes a rule the vendor left without a description.
const DefaultOpenText = "交易中"

var errNoRuleBlock = errors.New("rule block not found in response")

var vendorHeaders = map[string]string{
	"Referer":    "https://stock.finance.sina.com.cn/",
	"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// CalendarFeed downloads trading calendars from the vendor.
type CalendarFeed struct {
	client   *httpclient.Client
	baseURL  string
	openText string
}

func NewCalendarFeed(client *httpclient.Client, baseURL, openText string) *CalendarFeed {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if openText == "" {
		openText = DefaultOpenText
	}
	return &CalendarFeed{client: client, baseURL: baseURL, openText: openText}
}

// FetchRules implements repository.CalendarFeed.
func (f *CalendarFeed) FetchRules(ctx context.Context, feedKey string) ([]models.TradingRule, error) {
	body, err := fetch(ctx, f.client, f.baseURL, "random", "market_stock_"+feedKey)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar %s: %w", feedKey, err)
	}
	return ParseRules(body, feedKey, f.openText)
}

// ParseRules extracts the rule list from a
// var hq_str_market_stock_<key>="<header>|<p,s,e,d;...>"; response.
// Entries with fewer than three fields are skipped.
func ParseRules(body, feedKey, openText string) ([]models.TradingRule, error) {
	re := regexp.MustCompile(`var hq_str_market_stock_` + regexp.QuoteMeta(feedKey) + `="([^"]+)";`)
	m := re.FindStringSubmatch(body)
	if m == nil {
		return nil, errNoRuleBlock
	}

	content := m[1]
	if i := strings.Index(content, "|"); i >= 0 {
		content = content[i+1:]
	}

	var rules []models.TradingRule
	for _, entry := range strings.Split(strings.TrimSpace(content), ";") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		parts := strings.Split(entry, ",")
		if len(parts) < 3 {
			continue
		}
		desc := openText
		if len(parts) > 3 {
			desc = strings.TrimSpace(parts[3])
		}
		rules = append(rules, models.TradingRule{
			DatePattern: strings.TrimSpace(parts[0]),
			StartTime:   strings.TrimSpace(parts[1]),
			EndTime:     strings.TrimSpace(parts[2]),
			Description: desc,
		})
	}
	return rules, nil
}

// fetch issues a vendor GET with a cache-busting parameter and returns the
// body decoded from GBK.
func fetch(ctx context.Context, client *httpclient.Client, baseURL, bustParam, list string) (string, error) {
	var raw []byte
	err := client.SendAndParse(ctx, &httpclient.RequestOptions{
		URL:     baseURL,
		Headers: vendorHeaders,
		Query: map[string][]string{
			bustParam: {strconv.FormatInt(time.Now().UnixMilli(), 10)},
			"list":    {list},
		},
	}, &raw)
	if err != nil {
		return "", err
	}
	return decodeGBK(raw)
}

// decodeGBK converts a vendor body to UTF-8. Bodies that are already valid
// UTF-8 (ASCII-only responses included) are returned unchanged.
func decodeGBK(b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode gbk: %w", err)
	}
	return string(out), nil
}
