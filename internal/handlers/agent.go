package handlers

import (
	"errors"
	"time"

	"github.com/fleetgate/fleetgate/internal/middleware"
	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/fleetgate/fleetgate/pkg/response"
	"github.com/gin-gonic/gin"
)

// AgentHandler serves the device-facing API. Everything here except Enroll
// runs behind DeviceAuthRequired.
type AgentHandler struct {
	deviceService  *services.DeviceService
	commandService *services.CommandService
	reportService  *services.ReportService
}

func NewAgentHandler(deviceService *services.DeviceService, commandService *services.CommandService, reportService *services.ReportService) *AgentHandler {
	return &AgentHandler{
		deviceService:  deviceService,
		commandService: commandService,
		reportService:  reportService,
	}
}

// Enroll redeems an enrollment token and registers the device. The token
// travels as a bearer credential; the device token in the response is shown
// exactly once.
// POST /api/agent/enroll
func (h *AgentHandler) Enroll(c *gin.Context) {
	secret := middleware.BearerToken(c)
	if secret == "" {
		response.Unauthorized(c, "enrollment token required")
		return
	}

	var req services.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.deviceService.Enroll(secret, &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidEnrollToken):
			response.Unauthorized(c, "invalid enrollment token")
		case errors.Is(err, services.ErrEnrollTokenExpired):
			response.Unauthorized(c, "enrollment token expired")
		case errors.Is(err, services.ErrEnrollTokenUsed):
			response.Conflict(c, "enrollment token already used")
		default:
			response.Error(c, err)
		}
		return
	}

	deviceID := result.DeviceID
	services.LogInfo("agent", "enroll", "device enrolled", nil, &deviceID, c.ClientIP(), nil)
	response.Created(c, result)
}

type claimedCommand struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Params    map[string]interface{} `json:"params"`
	CreatedAt time.Time              `json:"created_at"`
}

// NextCommand hands the oldest queued command to the agent and marks it
// running. 204 means the queue is empty.
// GET /api/agent/commands/next
func (h *AgentHandler) NextCommand(c *gin.Context) {
	cmd, err := h.commandService.ClaimNext(middleware.GetDeviceID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if cmd == nil {
		c.Status(204)
		return
	}

	response.Success(c, claimedCommand{
		ID:        cmd.ID,
		Type:      cmd.Type,
		Params:    h.commandService.Params(cmd),
		CreatedAt: cmd.CreatedAt,
	})
}

// UpdateCommandStatus applies an agent progress report to a command
// POST /api/agent/commands/:id/status
func (h *AgentHandler) UpdateCommandStatus(c *gin.Context) {
	var req services.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	err := h.commandService.UpdateStatus(middleware.GetDeviceID(c), c.Param("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCommandStatus):
			response.BadRequest(c, "invalid status or progress")
		case errors.Is(err, services.ErrNotFound):
			response.NotFound(c, "command not found")
		default:
			response.Error(c, err)
		}
		return
	}
	response.Success(c, gin.H{"message": "status updated"})
}

// UploadReport stores an agent result payload
// POST /api/agent/reports
func (h *AgentHandler) UploadReport(c *gin.Context) {
	var req services.ReportUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	reportID, err := h.reportService.Upload(middleware.GetDeviceID(c), &req)
	if err != nil {
		if errors.Is(err, services.ErrReportTooLarge) {
			response.Error(c, response.NewPayloadTooLarge("report payload too large"))
			return
		}
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"report_id": reportID})
}

// Heartbeat refreshes the device's last-seen time. Authentication already
// bumps it; the endpoint exists so idle agents can stay visibly online
// without polling for work.
// POST /api/agent/heartbeat
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	response.Success(c, gin.H{
		"device_id":   middleware.GetDeviceID(c),
		"server_time": time.Now().UTC(),
	})
}

// GetSettings returns the device's current settings
// GET /api/agent/settings
func (h *AgentHandler) GetSettings(c *gin.Context) {
	setting, err := h.deviceService.GetSettings(middleware.GetDeviceID(c))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			response.NotFound(c, "settings not found")
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, setting)
}
