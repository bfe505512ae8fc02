package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/api/dto"
)

// ErrorHandlerMiddleware turns panics into a JSON 500 and logs errors that
// handlers attached with c.Error.
func ErrorHandlerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
					Error:   "Internal Server Error",
					Message: "An unexpected error occurred",
					Code:    http.StatusInternalServerError,
				})
			}
		}()

		c.Next()

		for _, err := range c.Errors {
			logger.Error().Err(err.Err).Str("path", c.Request.URL.Path).Msg("request failed")
		}
		if len(c.Errors) > 0 && !c.Writer.Written() {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
				Error:   "Internal Server Error",
				Message: c.Errors.Last().Error(),
				Code:    http.StatusInternalServerError,
			})
		}
	}
}
