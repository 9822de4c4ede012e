package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// tenantIDKey is the gin context key set by tenant resolution.
const tenantIDKey = "tenantID"

// TenantMiddleware is a thin shim standing in for the real tenant-resolution
// middleware (an external collaborator). It trusts the X-Tenant-ID header set
// by the upstream gateway.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant not resolved"})
			return
		}
		c.Set(tenantIDKey, tenantID)
		c.Next()
	}
}

// getTenantID returns the resolved tenant ID for the request.
func getTenantID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(tenantIDKey))
}
