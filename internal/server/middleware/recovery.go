package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/svcgate/svcgate/internal/observability"
)

// Recovery converts panics into 500 responses instead of dropped connections.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					observability.Any("panic", rec),
					observability.String("path", c.Request.URL.Path),
					observability.String("method", c.Request.Method),
					observability.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal server error",
					"message": "an unexpected error occurred",
				})
			}
		}()
		c.Next()
	}
}
