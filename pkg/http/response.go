package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"Chronos/pkg/http/middleware"
)

// Envelope wraps every JSON reply. Status always equals the HTTP code.
type Envelope struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// AppError carries the HTTP status a handler failure maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithError attaches the cause. It is logged, never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(code, msg string, status int) *AppError {
	return &AppError{Code: code, Message: msg, Status: status}
}

func BadRequestError(msg string) *AppError {
	return newAppError("ERR_BAD_REQUEST", msg, http.StatusBadRequest)
}

func TooManyRequestsError(msg string) *AppError {
	return newAppError("ERR_RATE_LIMITED", msg, http.StatusTooManyRequests)
}

func UnavailableError(msg string) *AppError {
	return newAppError("ERR_UNAVAILABLE", msg, http.StatusServiceUnavailable)
}

func InternalError(msg string) *AppError {
	return newAppError("ERR_INTERNAL", msg, http.StatusInternalServerError)
}

func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Envelope{Status: status, Message: http.StatusText(status), Data: data})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

func ServiceUnavailableResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusServiceUnavailable, data)
}

// AppErrorResponse renders err with its own status, or as a 500 when it is
// not an *AppError. The cause is attached to the request for the access log.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("something went wrong").WithError(err)
	}
	if appErr.Err != nil {
		c.Set(middleware.ErrorKey, appErr.Err)
	}
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}
