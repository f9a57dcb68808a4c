package handlers

import (
	"errors"

	"github.com/fleetgate/fleetgate/internal/middleware"
	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/fleetgate/fleetgate/pkg/response"
	"github.com/gin-gonic/gin"
)

type DeviceHandler struct {
	deviceService *services.DeviceService
}

func NewDeviceHandler(deviceService *services.DeviceService) *DeviceHandler {
	return &DeviceHandler{deviceService: deviceService}
}

// List returns all devices owned by the current user
// GET /api/devices
func (h *DeviceHandler) List(c *gin.Context) {
	result, err := h.deviceService.List(middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Get returns one device with recent activity
// GET /api/devices/:id
func (h *DeviceHandler) Get(c *gin.Context) {
	detail, err := h.deviceService.Get(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			response.NotFound(c, "device not found")
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, detail)
}

// Revoke permanently disables a device and its credentials
// POST /api/devices/:id/revoke
func (h *DeviceHandler) Revoke(c *gin.Context) {
	err := h.deviceService.Revoke(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			response.NotFound(c, "device not found")
		case errors.Is(err, services.ErrAlreadyRevoked):
			response.Conflict(c, "device already revoked")
		default:
			response.Error(c, err)
		}
		return
	}
	response.Success(c, gin.H{"message": "device revoked"})
}

type updateSettingsRequest struct {
	UploadLevel string `json:"upload_level" binding:"required"`
}

// UpdateSettings changes how much detail the device uploads
// PUT /api/devices/:id/settings
func (h *DeviceHandler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	setting, err := h.deviceService.UpdateSettings(middleware.GetUserID(c), c.Param("id"), req.UploadLevel)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidUploadLevel):
			response.BadRequest(c, "upload_level must be summary or full")
		case errors.Is(err, services.ErrNotFound):
			response.NotFound(c, "device not found")
		default:
			response.Error(c, err)
		}
		return
	}
	response.Success(c, setting)
}

// Delete removes a device and everything it owns
// DELETE /api/devices/:id
func (h *DeviceHandler) Delete(c *gin.Context) {
	err := h.deviceService.Delete(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			response.NotFound(c, "device not found")
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "device deleted"})
}
