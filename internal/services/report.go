package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/models"
	"github.com/fleetgate/fleetgate/internal/utils"
	"github.com/fleetgate/fleetgate/pkg/logger"
	"gorm.io/gorm"
)

// ReportService stores agent result uploads and links them back to the
// commands that produced them.
type ReportService struct {
	db     *gorm.DB
	policy *config.PolicyConfig
	cmdSvc *CommandService
	queue  ReportQueue
}

func NewReportService(db *gorm.DB, policy *config.PolicyConfig, cmdSvc *CommandService, queue ReportQueue) *ReportService {
	return &ReportService{db: db, policy: policy, cmdSvc: cmdSvc, queue: queue}
}

type ReportUploadRequest struct {
	CommandID *string                `json:"command_id"`
	Report    map[string]interface{} `json:"report" binding:"required"`
}

// Upload persists a report for the calling device. The payload is
// size-capped before any state mutation. Linking a command resolves it
// through the queue's idempotent attach.
func (s *ReportService) Upload(deviceID string, req *ReportUploadRequest) (string, error) {
	raw, err := json.Marshal(req.Report)
	if err != nil {
		return "", err
	}
	if int64(len(raw)) > s.policy.MaxReportSizeBytes {
		return "", ErrReportTooLarge
	}

	report := models.Report{
		ID:            utils.GenerateID("rpt"),
		DeviceID:      deviceID,
		CommandID:     req.CommandID,
		RawReportJSON: string(raw),
		CreatedAt:     time.Now().UTC(),
	}
	extractSummary(&report, req.Report)

	if err := s.db.Create(&report).Error; err != nil {
		return "", err
	}

	if req.CommandID != nil && *req.CommandID != "" {
		if err := s.cmdSvc.AttachResult(deviceID, *req.CommandID, report.ID); err != nil {
			// The report itself is stored; a dangling command link is the
			// agent's retry problem, not a reason to lose the upload.
			logger.Warn().Err(err).
				Str("device_id", deviceID).
				Str("command_id", *req.CommandID).
				Msg("failed to link report to command")
		}
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(&ReportTask{ReportID: report.ID, DeviceID: deviceID}); err != nil {
			logger.Warn().Err(err).Str("report_id", report.ID).Msg("failed to enqueue report task")
		}
	}
	return report.ID, nil
}

// extractSummary pulls the list-view columns out of the raw payload. Keys
// follow the agent's wire format.
func extractSummary(report *models.Report, data map[string]interface{}) {
	if v, ok := data["healthScore"].(float64); ok {
		score := int(v)
		report.HealthScore = &score
	}
	if v, ok := data["diskFreePercent"].(float64); ok {
		report.DiskFreePercent = &v
	}
	if v, ok := data["startupAppsCount"].(float64); ok {
		count := int(v)
		report.StartupAppsCount = &count
	}
	if v, ok := data["oneLiner"].(string); ok && v != "" {
		report.OneLiner = &v
	}
}

// ProcessReportTask is the post-upload hook run by the report queue. It
// records an audit entry with the extracted summary so operators can trace
// agent activity without opening raw payloads.
func (s *ReportService) ProcessReportTask(ctx context.Context, task *ReportTask) error {
	var report models.Report
	err := s.db.WithContext(ctx).First(&report, "id = ?", task.ReportID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Report deleted between enqueue and processing; nothing to do.
		return nil
	}
	if err != nil {
		return err
	}

	extra := map[string]interface{}{"report_id": report.ID}
	if report.HealthScore != nil {
		extra["health_score"] = *report.HealthScore
	}
	if report.OneLiner != nil {
		extra["one_liner"] = *report.OneLiner
	}
	LogInfo("report", "ingest", "report processed", nil, &report.DeviceID, "", extra)
	return nil
}

// Get returns one report if its device belongs to the user.
func (s *ReportService) Get(userID, reportID string) (*models.Report, error) {
	var report models.Report
	err := s.db.
		Joins("JOIN devices ON devices.id = reports.device_id").
		Where("reports.id = ? AND devices.user_id = ?", reportID, userID).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}
