package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"Chronos/pkg/logger"
)

// ErrorKey is the echo context key handlers use to hand the underlying cause
// of an error response to the access log.
const ErrorKey = "chronos.handler_error"

// RequestLogging logs each request at debug level, or at warn when the
// handler attached a cause under ErrorKey. The status stream is logged when
// it closes.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", c.Response().Status),
				logger.Duration("latency", time.Since(start)),
			}
			if cause, ok := c.Get(ErrorKey).(error); ok && cause != nil {
				l.Warn("http request error", append(fields, logger.Error(cause))...)
			} else {
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
