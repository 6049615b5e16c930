package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
)

// statusFor maps the error taxonomy to an HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrInternal):
		return http.StatusInternalServerError, "internal_error"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

// errorHandler writes every error as {"error": {"code", "message"}}.
// Internal details are logged, never returned.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   ErrorBody
	)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		body.Error = ErrorDetail{Code: codeForStatus(he.Code), Message: msg}
	} else {
		var code string
		status, code = statusFor(err)
		body.Error = ErrorDetail{Code: code, Message: apperr.PublicMessage(err)}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, body)
	}
	if werr != nil {
		s.logger.Warn("writing error response", zap.Error(werr))
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= http.StatusInternalServerError {
		return "internal_error"
	}
	return "error"
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
