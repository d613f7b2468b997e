package middleware

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/teleconsult-api/internal/handler"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

// ErrorHandler renders the last error attached to the context as the error
// envelope. Errors that are not *errors.AppError become INTERNAL and their
// text is not sent to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last().Err
		var appErr *errors.AppError
		if !stderrors.As(lastErr, &appErr) {
			appErr = errors.Internal(lastErr)
		}

		message := appErr.Message
		if appErr.StatusCode() == http.StatusInternalServerError {
			message = "internal server error"
		}
		c.JSON(appErr.StatusCode(), handler.NewErrorResponse(appErr.Kind(), message))
	}
}
