package middleware

import (
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// GenericErrorBody is the only thing a client learns about an unhandled error.
const GenericErrorBody = "Something broke!"

// ErrorHandler logs errors attached to the context with c.Error and, if the
// handler has not written a response, answers 500 with GenericErrorBody.
func ErrorHandler(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		logger.Error().
			Err(c.Errors.Last().Err).
			Strs("errors", c.Errors.Errors()).
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("unhandled request error")

		if c.Writer.Written() {
			return
		}
		c.String(http.StatusInternalServerError, GenericErrorBody)
	}
}

// Recovery turns a panic into a logged error and a generic 500.
func Recovery(logger zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error().
			Str("panic", fmt.Sprint(recovered)).
			Str("stack", string(debug.Stack())).
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("panic recovered")

		c.Abort()
		if !c.Writer.Written() {
			c.String(http.StatusInternalServerError, GenericErrorBody)
		}
	})
}
