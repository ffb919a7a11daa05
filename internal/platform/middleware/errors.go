package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// StatusOf maps err to the HTTP status it is reported with.
func StatusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperr.KindOf(err).HTTPStatus()
}

func describe(err error) (msg, detail string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
		if he.Internal != nil {
			detail = he.Internal.Error()
		}
		return msg, detail
	}
	return apperr.Describe(err)
}

// ErrorHandler renders errors as ErrorResponse. Server errors are logged and
// captured by Sentry.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		status := StatusOf(err)
		rid, _ := c.Get("request_id").(string)

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Msg("request failed")

			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetRequest(c.Request())
			hub.Scope().SetTag("request_id", rid)
			hub.CaptureException(err)
		}

		if c.Response().Committed {
			// Headers and part of the body are already out, typically a
			// blob stream that failed midway.
			logger.Warn().Err(err).Str("request_id", rid).Msg("error after response was committed")
			return
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}

		msg, detail := describe(err)
		if werr := c.JSON(status, ErrorResponse{Success: false, Error: msg, Details: detail}); werr != nil {
			logger.Error().Err(werr).Str("request_id", rid).Msg("write error response")
		}
	}
}
