package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/metrics"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

// SourcesHandler serves the per-source calendar and quote endpoints.
type SourcesHandler struct {
	logger  *xlogger.Logger
	svc     *usecase.MarketService
	stream  *StreamHandler
	started time.Time
}

func NewSourcesHandler(logger *xlogger.Logger, svc *usecase.MarketService, stream *StreamHandler) *SourcesHandler {
	metrics.Register()
	return &SourcesHandler{logger: logger, svc: svc, stream: stream, started: time.Now()}
}

func (h *SourcesHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api/sources")
	g.GET("", h.List)
	if h.stream != nil {
		g.GET("/stream", h.stream.Stream)
		g.GET("/stream/stats", h.stream.Stats)
	}
	g.GET("/:source_id/latest/:market/:data_type", h.Latest)
	g.GET("/:source_id/market-status/:market", h.MarketStatus)
	g.GET("/:source_id/next-opening-time/:market", h.NextOpening)
	g.GET("/:source_id/trading-hours/:market", h.TradingHours)
	g.GET("/:source_id/special-holidays/:market", h.SpecialHolidays)
	g.DELETE("/:source_id/calendar-cache", h.ClearCache)
}

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Sources       int     `json:"sources"`
}

func (h *SourcesHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
		Sources:       len(h.svc.Sources()),
	})
}

func (h *SourcesHandler) List(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.svc.Sources())
}

func (h *SourcesHandler) Latest(c echo.Context) error {
	start := time.Now()
	req := &models.LatestDataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ev, err := h.svc.Latest(c.Request().Context(), req.SourceID, req.Market, req.DataType)
	metrics.Observe("latest", start, err)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, ev)
}

func (h *SourcesHandler) MarketStatus(c echo.Context) error {
	start := time.Now()
	req := &models.MarketStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.svc.MarketStatus(c.Request().Context(), req.SourceID, req.Market, req.CheckTime)
	metrics.Observe("market_status", start, err)
	if err != nil {
		h.logger.Warn("market status failed", xlogger.String("market", req.Market), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *SourcesHandler) NextOpening(c echo.Context) error {
	start := time.Now()
	req := &models.MarketRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.NextOpening(c.Request().Context(), req.SourceID, req.Market)
	metrics.Observe("next_opening", start, err)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SourcesHandler) TradingHours(c echo.Context) error {
	start := time.Now()
	req := &models.MarketRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	days, err := h.svc.TradingHours(c.Request().Context(), req.SourceID, req.Market)
	metrics.Observe("trading_hours", start, err)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, days)
}

func (h *SourcesHandler) SpecialHolidays(c echo.Context) error {
	start := time.Now()
	req := &models.SpecialDaysRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	days, err := h.svc.SpecialHolidays(c.Request().Context(), req.SourceID, req.Market, req.TZ)
	metrics.Observe("special_holidays", start, err)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, days)
}

func (h *SourcesHandler) ClearCache(c echo.Context) error {
	req := &models.SourceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.svc.ClearCalendar(c.Request().Context(), req.SourceID); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.DataResponse(c, http.StatusOK, map[string]string{"message": "calendar cache cleared"})
}
