package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"

	applogger "MarketPulse/pkg/logger"
)

const stackSize = 4 << 10

// Recover turns a handler panic into a logged 500. Nothing is written when
// the response was already committed, as happens mid-stream.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				stack := make([]byte, stackSize)
				stack = stack[:runtime.Stack(stack, false)]
				l.Error("http handler panic",
					applogger.String("route", c.Path()),
					applogger.String("method", c.Request().Method),
					applogger.Error(perr),
					applogger.String("stack", string(stack)),
				)
				if c.Response().Committed {
					err = perr
					return
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"code":    "ERR_INTERNAL",
					"message": "Internal Server Error",
				})
			}()
			return next(c)
		}
	}
}
