package middleware

import (
	"time"

	applogger "FinAlloc/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestID echoes the caller's X-Request-ID or assigns a new one.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

// RequestLogging logs each request at debug and client errors at info.
// Server errors and slow requests are reported by Metrics.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", c.Path()),
				applogger.String("uri", req.RequestURI),
				applogger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				applogger.Int("status", status),
				applogger.Duration("latency", time.Since(start)),
			}
			if status >= 400 && status < 500 {
				l.Info("http request rejected", fields...)
			} else {
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
