package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

// Deadline attaches a deadline to the request context. Handlers check it
// before starting work; work already started is allowed to finish.
func Deadline(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
