package middleware

import (
	"github.com/Rogrei/diagnostik-chat/internal/api/handlers"
	"github.com/gin-gonic/gin"
)

// ErrorDetails controls whether error bodies carry the wrapped cause.
func ErrorDetails(expose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(handlers.ExposeErrorDetailsKey, expose)
		c.Next()
	}
}
