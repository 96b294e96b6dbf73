package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodyLimit refuses bodies larger than n bytes. Declared lengths are checked
// up front; chunked bodies are capped while the handler reads them.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > n {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"message": "Request body too large",
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
