package handlers

import (
	"encoding/json"
	"errors"

	"github.com/fleetgate/fleetgate/internal/middleware"
	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/fleetgate/fleetgate/pkg/response"
	"github.com/gin-gonic/gin"
)

type ReportHandler struct {
	reportService *services.ReportService
}

func NewReportHandler(reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// Get returns one report with its raw payload
// GET /api/reports/:id
func (h *ReportHandler) Get(c *gin.Context) {
	report, err := h.reportService.Get(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			response.NotFound(c, "report not found")
			return
		}
		response.Error(c, err)
		return
	}

	payload := map[string]interface{}{}
	if report.RawReportJSON != "" {
		if err := json.Unmarshal([]byte(report.RawReportJSON), &payload); err != nil {
			payload = map[string]interface{}{}
		}
	}
	response.Success(c, gin.H{"report": report, "payload": payload})
}
