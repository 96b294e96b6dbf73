package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
)

// RequireToken rejects requests without a valid bearer token and stores the
// caller's id and email in the gin context. The bare "token" header is
// accepted as well, for load-testing tools that cannot set Authorization.
func RequireToken(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenHeader := c.GetHeader("token")

		var tokenString string
		switch {
		case authHeader != "":
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				abortUnauthorized(c, "Invalid authorization header")
				return
			}
			tokenString = parts[1]
		case tokenHeader != "":
			tokenString = strings.TrimPrefix(tokenHeader, "Bearer ")
		default:
			abortUnauthorized(c, "No authorization header found")
			return
		}

		claims, err := tokens.Parse(tokenString)
		if err != nil {
			abortUnauthorized(c, "Invalid token")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}

// UserID returns the id stored by RequireToken.
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// Email returns the email claim stored by RequireToken.
func Email(c *gin.Context) string {
	return c.GetString(ctxEmail)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Message: msg})
}
