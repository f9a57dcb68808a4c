package handlers

import (
	"github.com/fleetgate/fleetgate/internal/models"
	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/gin-gonic/gin"
)

// HealthHandler reports subsystem status for probes and dashboards.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// CheckHealth returns the health status of all subsystems.
// GET /api/health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	queueMode := "sync"
	if q := services.GetReportQueue(); q != nil && q.IsAsync() {
		queueMode = "async (Redis)"
	}

	var queuedCommands int64
	models.GetDB().Model(&models.Command{}).
		Where("status = ?", models.CommandStatusQueued).
		Count(&queuedCommands)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "fleetgate",
		"components": gin.H{
			"database":        dbStatus,
			"queue_mode":      queueMode,
			"queued_commands": queuedCommands,
		},
	})
}
