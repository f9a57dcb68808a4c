package middleware

import (
	"fmt"
	"strings"

	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/gin-gonic/gin"
)

// AuditLog records operator write operations (POST/PUT/DELETE) to
// system_logs. Request bodies are not captured; they can carry secrets
// (passwords, enrollment tokens) that must never reach the audit trail.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "DELETE" {
			c.Next()
			return
		}

		c.Next()

		userID := GetUserID(c)
		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)

		var uid *string
		if userID != "" {
			uid = &userID
		}

		message := fmt.Sprintf("%s %s -> %d", method, c.Request.URL.Path, status)
		services.LogInfo(module, action, message, uid, nil, c.ClientIP(), map[string]interface{}{
			"method":     method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"user_agent": c.Request.UserAgent(),
		})
	}
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/devices/:id/revoke" + "POST" -> module="devices", action="Create"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")

	parts := strings.SplitN(path, "/", 2)
	module = parts[0]
	if module == "" {
		module = "unknown"
	}

	switch method {
	case "POST":
		action = "Create"
	case "PUT":
		action = "Update"
	case "DELETE":
		action = "Delete"
	default:
		action = method
	}
	return module, action
}
