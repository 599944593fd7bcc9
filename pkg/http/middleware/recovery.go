package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "FinAlloc/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns a handler panic into the standard ERR_INTERNAL envelope.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				l.Error("panic recovered",
					applogger.Error(perr),
					applogger.String("route", c.Path()),
					applogger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
					applogger.String("stack", string(debug.Stack())),
				)
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
					"data":    []map[string]string{{"code": "ERR_INTERNAL", "message": "internal error"}},
				})
			}()
			return next(c)
		}
	}
}
