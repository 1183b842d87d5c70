package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS answers every request with permissive CORS headers and ends
// preflight requests with 200 and an empty JSON object.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		h.Set("Access-Control-Allow-Credentials", "*")
		h.Set("Access-Control-Expose-Headers", TraceIDHeader+", "+RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{})
			return
		}
		c.Next()
	}
}
