package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"StockRisk/pkg/logger"
)

// RequestLogging logs one line per request. 5xx are errors, requests slower
// than slow are warnings, everything else is debug.
func RequestLogging(lgr *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo's error handler set the final status before we read it
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			latency := time.Since(start)
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("route", routeLabel(c)),
				logger.Int("status", res.Status),
				logger.Duration("latency_ms", latency),
				logger.Int64("bytes", res.Size),
				logger.String("remote", c.RealIP()),
				logger.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
			}

			switch {
			case res.Status >= 500:
				lgr.Error("http request failed", fields...)
			case slow > 0 && latency >= slow:
				lgr.Warn("http request slow", fields...)
			default:
				lgr.Debug("http request", fields...)
			}
			return nil
		}
	}
}
