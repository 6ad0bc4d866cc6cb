package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nearcast/internal/core/ports"
)

// AuthMiddleware guards operator endpoints with a bearer token. On success
// the operator name from the token is stored in the request context.
func AuthMiddleware(authService ports.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		operator, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("operator", operator)
		c.Next()
	}
}

// OptionalAuthMiddleware records the operator when a valid token is present
// but lets anonymous requests through. Used on read-only endpoints so logs
// can attribute actions without forcing every dashboard to authenticate.
func OptionalAuthMiddleware(authService ports.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			if operator, err := authService.ValidateToken(parts[1]); err == nil {
				c.Set("operator", operator)
			}
		}

		c.Next()
	}
}
