// Package http carries the gin boundary: the front API, the payment
// callback and the identity middleware.
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// userIDHeader is set by the host application's auth layer; this service
// trusts it and never validates credentials itself.
const userIDHeader = "X-User-ID"

// UserIdentityMiddleware reads the authenticated user id from the request
// headers and stores it in the gin context.
func UserIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(userIDHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		userID, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil || userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user identity"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}
