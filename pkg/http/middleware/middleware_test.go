package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecoverTurnsPanicInto500(t *testing.T) {
	e := echo.New()
	e.Use(Recover(nil))
	e.GET("/boom", func(c echo.Context) error { panic("boom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(Metrics(nil, time.Second))
	e.GET("/api/sources/:source_id/market-status/:market", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	route := "/api/sources/:source_id/market-status/:market"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(route, http.MethodGet, "200"))
	for _, m := range []string{"HK", "US"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sources/wen_cai/market-status/"+m, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(route, http.MethodGet, "200"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests on the template label, got %v", after-before)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := echo.New()
	e.Use(CORS())
	e.GET("/api/sources/stream", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/sources/stream", nil)
	req.Header.Set(echo.HeaderOrigin, "http://dashboard.test")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "*" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestCORSRestrictsOrigins(t *testing.T) {
	e := echo.New()
	e.Use(CORS("http://dashboard.test"))
	e.GET("/api/sources", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	req.Header.Set(echo.HeaderOrigin, "http://elsewhere.test")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}
