package handlers

import (
	"errors"
	"strconv"

	"github.com/fleetgate/fleetgate/internal/middleware"
	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/fleetgate/fleetgate/pkg/response"
	"github.com/gin-gonic/gin"
)

type CommandHandler struct {
	commandService *services.CommandService
}

func NewCommandHandler(commandService *services.CommandService) *CommandHandler {
	return &CommandHandler{commandService: commandService}
}

// Create enqueues a command for a device
// POST /api/devices/:id/commands
func (h *CommandHandler) Create(c *gin.Context) {
	var req services.CommandCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cmd, err := h.commandService.Create(middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCommandType):
			response.BadRequest(c, "unknown command type")
		case errors.Is(err, services.ErrNotFound):
			response.NotFound(c, "device not found")
		case errors.Is(err, services.ErrDeviceRevoked):
			response.Conflict(c, "device is revoked")
		default:
			response.Error(c, err)
		}
		return
	}

	response.Created(c, cmd)
}

// List returns a device's command history, newest first
// GET /api/devices/:id/commands
func (h *CommandHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	result, err := h.commandService.List(middleware.GetUserID(c), c.Param("id"), limit, offset)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			response.NotFound(c, "device not found")
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Get returns one command by id
// GET /api/commands/:id
func (h *CommandHandler) Get(c *gin.Context) {
	cmd, err := h.commandService.Get(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			response.NotFound(c, "command not found")
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, cmd)
}
