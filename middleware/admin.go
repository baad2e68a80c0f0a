package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const AdminKeyHeader = "X-ADMIN-SERVICE-API-KEY"

// AdminKey gates administrator endpoints on the shared service key. A
// missing key is 401, a wrong one 403. An unconfigured key denies everything.
func AdminKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(AdminKeyHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Admin service API key required"})
			return
		}
		if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid admin service API key"})
			return
		}
		c.Next()
	}
}
