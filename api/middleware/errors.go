package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/models"
	"github.com/magpielabs/magpie/store"
)

// Errors is the single translation point between internal errors and the
// response envelope. Handlers record errors on the context and return;
// whatever was recorded last decides the status, code, and message.
//
// Unexpected errors are logged with their cause and, outside debug mode,
// masked so internals never leak to clients.
func Errors(mode string) gin.HandlerFunc {
	mask := mode != gin.DebugMode

	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, code, message := translate(err)

		if status == http.StatusInternalServerError {
			slog.Error("request failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err,
			)
			if mask {
				message = "internal server error"
			}
		}

		c.JSON(status, models.Response{
			Success: false,
			Error:   code,
			Message: message,
		})
	}
}

// translate maps an internal error onto (status, code, message).
func translate(err error) (int, string, string) {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, models.ErrCodeNotFound, "resource not found"
	}
	if store.IsUniqueViolation(err) {
		return http.StatusConflict, models.ErrCodeConflict, "resource already exists"
	}

	var se *models.ScrapeError
	if errors.As(err, &se) {
		return statusFor(se.Code), se.Code, se.Message
	}
	return http.StatusInternalServerError, models.ErrCodeInternal, err.Error()
}

// statusFor picks the HTTP status for a taxonomy code. Worker-side codes
// (timeouts, navigation failures) never reach clients directly, so anything
// unknown is an internal error.
func statusFor(code string) int {
	switch code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case models.ErrCodeNotFound:
		return http.StatusNotFound
	case models.ErrCodeConflict:
		return http.StatusConflict
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case models.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
