package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"StockRisk/pkg/logger"
)

// Recover converts a panic in a handler into a 500 so one request cannot take
// the process down.
func Recover(lgr *logger.Logger) echo.MiddlewareFunc {
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
				lgr.Error("panic recovered",
					logger.String("route", routeLabel(c)),
					logger.Error(perr),
					logger.String("stack", string(debug.Stack())),
				)
				err = c.JSON(http.StatusInternalServerError, map[string]any{
					"error": map[string]string{
						"code":    "ERR_INTERNAL",
						"message": "Internal Server Error",
					},
				})
			}()
			return next(c)
		}
	}
}
