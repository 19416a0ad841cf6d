package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/broadcast"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/ratelimit"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

// StreamLimits bounds how fast one client IP may open streams.
// StreamRoute is the server-sent event endpoint.
const StreamRoute = "/api/sources/stream"

type StreamLimits struct {
	Burst        float64
	RefillPerSec float64
}

// StreamHandler serves the server-sent event feed backed by the Broadcaster.
type StreamHandler struct {
	logger *xlogger.Logger
	b      *broadcast.Broadcaster
	rl     *ratelimit.Limiter
	limits StreamLimits
}

func NewStreamHandler(logger *xlogger.Logger, b *broadcast.Broadcaster, rl *ratelimit.Limiter, limits StreamLimits) *StreamHandler {
	if limits.Burst <= 0 {
		limits.Burst = 5
	}
	if limits.RefillPerSec <= 0 {
		limits.RefillPerSec = 1
	}
	return &StreamHandler{logger: logger, b: b, rl: rl, limits: limits}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Stream registers a connection and relays its events until the client
// goes away or the connection is closed.
func (h *StreamHandler) Stream(c echo.Context) error {
	req := &models.StreamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ip := c.RealIP()
	if !h.rl.Allow(ip+":stream", h.limits.Burst, h.limits.RefillPerSec) {
		h.logger.Warn("stream rate limited", xlogger.String("remote", ip))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many stream requests", http.StatusTooManyRequests))
	}

	var kinds []models.DataKind
	for _, k := range splitList(req.DataTypes) {
		kind := models.DataKind(k)
		if !models.IsValidKind(kind) {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_INVALID_DATA_TYPE", "data_types", fmt.Sprintf("unknown data type %q", k), http.StatusBadRequest))
		}
		kinds = append(kinds, kind)
	}
	filter := models.NewFilter(splitList(req.Sources), splitList(req.Markets), kinds)

	id := h.b.Create(filter)
	defer func() { _ = h.b.Disconnect(id) }()
	h.logger.Info("stream connected", xlogger.String("connection_id", id), xlogger.String("remote", ip))

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if err := writeEvent(res, "connected", map[string]any{
		"event":         "connected",
		"connection_id": id,
		"filter":        filter.View(),
	}); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for {
		ev, err := h.b.Consume(ctx, id)
		switch {
		case err == nil:
			err = writeEvent(res, "market_data", models.NewStreamPayload(ev))
		case errors.Is(err, broadcast.ErrConsumeTimeout):
			err = writeEvent(res, "heartbeat", map[string]any{
				"event":     "heartbeat",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.logger.Info("stream client gone", xlogger.String("connection_id", id))
			return nil
		default:
			_ = writeEvent(res, "error", map[string]any{"event": "error", "message": err.Error()})
			h.logger.Info("stream closed", xlogger.String("connection_id", id), xlogger.Error(err))
			return nil
		}
		if err != nil {
			h.logger.Debug("stream write failed", xlogger.String("connection_id", id), xlogger.Error(err))
			return nil
		}
	}
}

// Stats reports the broadcaster registry.
func (h *StreamHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.b.Stats())
}

func writeEvent(res *echo.Response, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	res.Flush()
	return nil
}
