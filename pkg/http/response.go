package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes data as JSON with the given status code.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, data)
}

// SuccessResponse writes success response.
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// AcceptedResponse writes a 202 for work handed off to a background worker.
func AcceptedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusAccepted, data)
}

// InternalServerErrorResponse writes internal server error.
func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, ErrorBody{
		Error: ErrorDetail{Code: "ERR_INTERNAL", Message: "Something went wrong"},
	})
}

// AppErrorResponse writes application error response. Errors that are not an
// *AppError become a 500.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, ErrorBody{
			Error: ErrorDetail{
				Code:    appErr.Code,
				Message: appErr.Message,
				Field:   appErr.Field,
			},
			Details: appErr.Details,
		})
	}
	return InternalServerErrorResponse(c)
}
