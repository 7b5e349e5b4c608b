package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tollgrid/smarttoll/internal/api/dto"
)

// RequireAPIKey guards a route group with a static X-API-KEY check. An
// empty configured key disables the check entirely (development profile).
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-API-KEY")
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "Missing X-API-KEY header",
			})
			return
		}
		if provided != key {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{
				Code:    "FORBIDDEN",
				Message: "Invalid API key",
			})
			return
		}

		c.Next()
	}
}
