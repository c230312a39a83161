package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/media-booth-system/pkg/jwt"
)

// AuthMiddleware resolves the session token from the Authorization header,
// the auth cookie, or a query param (for browser clients that can't set
// headers) and stores the authenticated user id on the context.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
		if token == "" {
			token, _ = c.Cookie("auth_token")
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no authorization token"})
			return
		}

		claims, err := jwt.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}
