package sina

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
	httpclient "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

// Field positions in the vendor's comma separated quote strings.
const (
	hkNameIdx  = 1
	hkPriceIdx = 6
	hkDateIdx  = 17
	hkTimeIdx  = 18

	usNameIdx     = 0
	usPriceIdx    = 1
	usDateTimeIdx = 25 // "Jul 21 05:15PM EDT"
	usYearIdx     = 29
)

var quoteRe = regexp.MustCompile(`var hq_str_([^=]+)="([^"]*)"`)

// usZones maps the abbreviations the vendor prints to fixed offsets.
var usZones = map[string]*time.Location{
	"EDT": time.FixedZone("EDT", -4*3600),
	"EST": time.FixedZone("EST", -5*3600),
}

// QuoteClient fetches realtime index quotes.
type QuoteClient struct {
	client  *httpclient.Client
	baseURL string
	local   *time.Location
	logger  *applogger.Logger
}

// NewQuoteClient creates a client. local is the zone Hong Kong quote
// timestamps are printed in and US timestamps are converted to.
func NewQuoteClient(client *httpclient.Client, baseURL string, local *time.Location, logger *applogger.Logger) *QuoteClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &QuoteClient{client: client, baseURL: baseURL, local: local, logger: logger}
}

// FetchQuotes implements repository.QuoteFeed. The map is keyed by vendor code;
// Symbol on each event holds the instrument name reported by the vendor.
func (c *QuoteClient) FetchQuotes(ctx context.Context, codes []string) (map[string]models.MarketEvent, error) {
	if len(codes) == 0 {
		return map[string]models.MarketEvent{}, nil
	}
	body, err := fetch(ctx, c.client, c.baseURL, "rn", strings.Join(codes, ","))
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	return c.parse(body, codes), nil
}

func (c *QuoteClient) parse(body string, codes []string) map[string]models.MarketEvent {
	wanted := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		wanted[code] = struct{}{}
	}

	out := make(map[string]models.MarketEvent)
	for _, m := range quoteRe.FindAllStringSubmatch(body, -1) {
		code, data := m[1], m[2]
		if _, ok := wanted[code]; !ok || data == "" {
			continue
		}
		parts := strings.Split(data, ",")

		var (
			ev  models.MarketEvent
			err error
		)
		switch {
		case strings.HasPrefix(code, "rt_hk"):
			ev, err = c.parseHK(parts)
		case strings.HasPrefix(code, "gb_"):
			ev, err = c.parseUS(parts)
		default:
			err = fmt.Errorf("no parser for code")
		}
		if err != nil {
			c.logger.Warn("skipping vendor quote", applogger.String("code", code), applogger.Error(err))
			continue
		}
		out[code] = ev
	}
	return out
}

func (c *QuoteClient) parseHK(parts []string) (models.MarketEvent, error) {
	if len(parts) <= hkTimeIdx {
		return models.MarketEvent{}, fmt.Errorf("short hk record: %d fields", len(parts))
	}
	price, _ := strconv.ParseFloat(parts[hkPriceIdx], 64)
	stamp := strings.ReplaceAll(parts[hkDateIdx], "/", "-") + " " + parts[hkTimeIdx]
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, c.local)
	if err != nil {
		return models.MarketEvent{}, fmt.Errorf("hk time %q: %w", stamp, err)
	}
	return models.MarketEvent{Symbol: parts[hkNameIdx], Price: price, Timestamp: ts}, nil
}

func (c *QuoteClient) parseUS(parts []string) (models.MarketEvent, error) {
	if len(parts) <= usYearIdx {
		return models.MarketEvent{}, fmt.Errorf("short us record: %d fields", len(parts))
	}
	price, _ := strconv.ParseFloat(parts[usPriceIdx], 64)

	fields := strings.Fields(parts[usDateTimeIdx])
	if len(fields) != 4 {
		return models.MarketEvent{}, fmt.Errorf("unknown us time format %q", parts[usDateTimeIdx])
	}
	loc, ok := usZones[fields[3]]
	if !ok {
		return models.MarketEvent{}, fmt.Errorf("unknown us zone %q", fields[3])
	}
	stamp := parts[usYearIdx] + " " + strings.Join(fields[:3], " ")
	ts, err := time.ParseInLocation("2006 Jan 2 3:04PM", stamp, loc)
	if err != nil {
		return models.MarketEvent{}, fmt.Errorf("us time %q: %w", stamp, err)
	}
	return models.MarketEvent{Symbol: parts[usNameIdx], Price: price, Timestamp: ts.In(c.local)}, nil
}
