package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"MarketPulse/internal/calendar"
	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	icache "MarketPulse/internal/service/cache"
	"MarketPulse/internal/source"
	xhttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
	xutil "MarketPulse/pkg/util"
)

// OpeningResult is the next trading window, if any within the horizon.
type OpeningResult struct {
	Market string              `json:"market"`
	Found  bool                `json:"found"`
	Rule   *models.TradingRule `json:"next_opening,omitempty"`
}

// MarketService answers the per-source calendar and quote queries.
type MarketService struct {
	sources  map[string]drepo.QuoteSource
	order    []string
	cache    *calendar.Cache
	resolver *calendar.Resolver
	opening  *calendar.OpeningSearch
	schedule *calendar.Schedule
	resp     icache.BytesCache
	respTTL  time.Duration
	logger   *applogger.Logger
}

type MarketServiceDeps struct {
	Sources  []drepo.QuoteSource
	Cache    *calendar.Cache
	Resolver *calendar.Resolver
	Opening  *calendar.OpeningSearch
	Schedule *calendar.Schedule
	// Responses caches status, opening and trading-hour answers for ResponseTTL.
	Responses   icache.BytesCache
	ResponseTTL time.Duration
	Logger      *applogger.Logger
}

func NewMarketService(d MarketServiceDeps) *MarketService {
	s := &MarketService{
		sources:  make(map[string]drepo.QuoteSource, len(d.Sources)),
		cache:    d.Cache,
		resolver: d.Resolver,
		opening:  d.Opening,
		schedule: d.Schedule,
		resp:     d.Responses,
		respTTL:  d.ResponseTTL,
		logger:   d.Logger,
	}
	if s.logger == nil {
		s.logger = applogger.Nop()
	}
	if s.resp == nil {
		s.resp = icache.NewTTLCache()
	}
	for _, src := range d.Sources {
		id := src.Info().ID
		s.sources[id] = src
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)
	return s
}

// Sources lists every registered source.
func (s *MarketService) Sources() []models.SourceInfo {
	out := make([]models.SourceInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sources[id].Info())
	}
	return out
}

func (s *MarketService) source(id string) (drepo.QuoteSource, error) {
	src, ok := s.sources[id]
	if !ok {
		return nil, xhttp.NewAppError("ERR_SOURCE_NOT_FOUND", "source_id", fmt.Sprintf("source %q not found", id), http.StatusNotFound)
	}
	return src, nil
}

// MarketStatus resolves status now, or at checkTime when given. checkTime
// is RFC3339, unix seconds or milliseconds, or a "YYYY-MM-DD HH:MM:SS" wall
// clock in Asia/Shanghai.
func (s *MarketService) MarketStatus(ctx context.Context, sourceID, market, checkTime string) (*models.MarketStatus, error) {
	if _, err := s.source(sourceID); err != nil {
		return nil, err
	}
	if checkTime == "" {
		var st models.MarketStatus
		err := s.cached(ctx, "status:"+strings.ToUpper(market), &st, func() (any, error) {
			return s.resolver.CurrentStatus(ctx, market)
		})
		if err != nil {
			return nil, err
		}
		return &st, nil
	}

	var (
		st  models.MarketStatus
		err error
	)
	if at, ok := xutil.ParseInstant(checkTime); ok {
		st, err = s.resolver.StatusAt(ctx, market, at)
	} else {
		st, err = s.resolver.StatusAtLocal(ctx, market, checkTime, "")
	}
	if err != nil {
		return nil, mapCalendarErr(err)
	}
	return &st, nil
}

// NextOpening finds the next window that opens after now.
func (s *MarketService) NextOpening(ctx context.Context, sourceID, market string) (*OpeningResult, error) {
	if _, err := s.source(sourceID); err != nil {
		return nil, err
	}
	var res OpeningResult
	err := s.cached(ctx, "opening:"+strings.ToUpper(market), &res, func() (any, error) {
		rule, found, err := s.opening.NextOpening(ctx, market)
		if err != nil {
			return nil, err
		}
		r := OpeningResult{Market: market, Found: found}
		if found {
			r.Rule = &rule
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// TradingHours lists date-specific sessions in Asia/Shanghai.
func (s *MarketService) TradingHours(ctx context.Context, sourceID, market string) ([]models.TradingDay, error) {
	if _, err := s.source(sourceID); err != nil {
		return nil, err
	}
	var days []models.TradingDay
	err := s.cached(ctx, "hours:"+strings.ToUpper(market), &days, func() (any, error) {
		return s.schedule.TradingDays(ctx, market)
	})
	if err != nil {
		return nil, err
	}
	return days, nil
}

// SpecialHolidays lists date-specific sessions rendered in tz.
func (s *MarketService) SpecialHolidays(ctx context.Context, sourceID, market, tz string) ([]models.TradingDay, error) {
	if _, err := s.source(sourceID); err != nil {
		return nil, err
	}
	if tz == "" {
		tz = calendar.DisplayZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, xhttp.NewAppError("ERR_INVALID_TIMEZONE", "tz", fmt.Sprintf("unknown timezone %q", tz), http.StatusBadRequest).WithError(err)
	}
	days, err := s.schedule.SpecialDays(ctx, market, loc)
	if err != nil {
		return nil, mapCalendarErr(err)
	}
	return days, nil
}

// ClearCalendar drops the rule cache and every cached calendar answer.
func (s *MarketService) ClearCalendar(ctx context.Context, sourceID string) error {
	if _, err := s.source(sourceID); err != nil {
		return err
	}
	s.cache.Clear(ctx)
	n := s.resp.Purge("")
	s.logger.Info("calendar cache cleared", applogger.String("source", sourceID), applogger.Int("responses", n))
	return nil
}

// Latest fetches the newest observation from a source.
func (s *MarketService) Latest(ctx context.Context, sourceID, market, dataType string) (*models.MarketEvent, error) {
	src, err := s.source(sourceID)
	if err != nil {
		return nil, err
	}
	kind := models.DataKind(dataType)
	if !models.IsValidKind(kind) {
		return nil, xhttp.NewAppError("ERR_INVALID_DATA_TYPE", "data_type", fmt.Sprintf("unknown data type %q", dataType), http.StatusBadRequest)
	}
	ev, err := src.Latest(ctx, market, kind)
	switch {
	case err == nil:
		return ev, nil
	case errors.Is(err, source.ErrUnsupportedMarket):
		return nil, xhttp.NewAppError("ERR_UNSUPPORTED_MARKET", "market", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, source.ErrUnsupportedKind):
		return nil, xhttp.NewAppError("ERR_UNSUPPORTED_DATA_TYPE", "data_type", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, source.ErrNoData):
		return nil, xhttp.NotFoundError(err.Error()).WithError(err)
	default:
		s.logger.Error("latest fetch failed",
			applogger.String("source", sourceID),
			applogger.String("market", market),
			applogger.String("data_type", dataType),
			applogger.Error(err),
		)
		return nil, xhttp.InternalError("failed to fetch latest data").WithError(err)
	}
}

// cached serves key from the response cache into dest. Concurrent misses
// share one call to fn.
func (s *MarketService) cached(ctx context.Context, key string, dest any, fn func() (any, error)) error {
	b, err := s.resp.Load(key, s.respTTL, func() ([]byte, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return mapCalendarErr(err)
	}
	return json.Unmarshal(b, dest)
}

func mapCalendarErr(err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, calendar.ErrUnknownMarket):
		return xhttp.NewAppError("ERR_UNKNOWN_MARKET", "market", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, calendar.ErrInvalidInstant):
		return xhttp.NewAppError("ERR_INVALID_TIME", "check_time", err.Error(), http.StatusBadRequest).WithError(err)
	default:
		return xhttp.InternalError("calendar lookup failed").WithError(err)
	}
}
