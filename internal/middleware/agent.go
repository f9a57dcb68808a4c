package middleware

import (
	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/fleetgate/fleetgate/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextDeviceID     = "device_id"
	ContextDeviceUserID = "device_user_id"
	ContextDeviceName   = "device_name"
)

// DeviceAuthRequired authenticates agents by their opaque device token.
// Revoked devices and revoked or expired tokens all fail the same way; the
// agent cannot distinguish why it was rejected.
func DeviceAuthRequired(deviceSvc *services.DeviceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := BearerToken(c)
		if credential == "" {
			response.Unauthorized(c, "device token required")
			c.Abort()
			return
		}

		identity, err := deviceSvc.Authenticate(credential)
		if err != nil {
			response.Unauthorized(c, "invalid or revoked device token")
			c.Abort()
			return
		}

		c.Set(ContextDeviceID, identity.DeviceID)
		c.Set(ContextDeviceUserID, identity.UserID)
		c.Set(ContextDeviceName, identity.DeviceName)

		c.Next()
	}
}

// GetDeviceID gets the authenticated device ID from context
func GetDeviceID(c *gin.Context) string {
	if id, exists := c.Get(ContextDeviceID); exists {
		return id.(string)
	}
	return ""
}

// GetDeviceUserID gets the owning user of the authenticated device
func GetDeviceUserID(c *gin.Context) string {
	if id, exists := c.Get(ContextDeviceUserID); exists {
		return id.(string)
	}
	return ""
}
