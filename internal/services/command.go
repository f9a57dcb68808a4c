package services

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/models"
	"github.com/fleetgate/fleetgate/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllowedCommandTypes is the closed set of operations agents understand.
var AllowedCommandTypes = map[string]bool{
	"RUN_FULL":          true,
	"RUN_DEEP":          true,
	"RUN_STORAGE_ONLY":  true,
	"RUN_PRIVACY_ONLY":  true,
	"RUN_DOWNLOADS_TOP": true,
	"PING":              true,
}

// claimCandidates bounds the retry loop when a claim loses the conditional
// update race to an overlapping poll.
const claimCandidates = 5

// CommandService is the per-device work queue state machine:
// queued -> running -> succeeded | failed.
type CommandService struct {
	db     *gorm.DB
	policy *config.PolicyConfig
}

func NewCommandService(db *gorm.DB, policy *config.PolicyConfig) *CommandService {
	return &CommandService{db: db, policy: policy}
}

type CommandCreateRequest struct {
	Type   string                 `json:"type" binding:"required"`
	Params map[string]interface{} `json:"params"`
}

// Create enqueues a command for an owned, non-revoked device. Repeated
// identical requests create independent queue entries; there is no
// deduplication.
func (s *CommandService) Create(userID, deviceID string, req *CommandCreateRequest) (*models.Command, error) {
	if !AllowedCommandTypes[req.Type] {
		return nil, ErrInvalidCommandType
	}

	var device models.Device
	err := s.db.Where("id = ? AND user_id = ?", deviceID, userID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if device.RevokedAt != nil {
		return nil, ErrDeviceRevoked
	}

	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(s.policy.CommandTTLHours) * time.Hour)
	cmd := models.Command{
		ID:         utils.GenerateID("cmd"),
		DeviceID:   deviceID,
		UserID:     userID,
		Type:       req.Type,
		ParamsJSON: string(paramsJSON),
		Status:     models.CommandStatusQueued,
		Progress:   0,
		ExpiresAt:  &expiresAt,
		CreatedAt:  now,
	}
	if err := s.db.Create(&cmd).Error; err != nil {
		return nil, err
	}
	return &cmd, nil
}

// ClaimNext atomically hands the oldest claimable queued command to the
// calling device and flips it to running. At most one command is returned
// per call and no two callers ever claim the same command: candidates are
// selected FIFO (created_at, id), expired rows are skipped at claim time,
// and the transition itself is a conditional update whose affected-row count
// decides the winner. On postgres the candidate select additionally takes
// FOR UPDATE SKIP LOCKED so overlapping polls pass each other instead of
// queueing on row locks. A nil result means no work, not an error.
func (s *CommandService) ClaimNext(deviceID string) (*models.Command, error) {
	now := time.Now().UTC()
	var claimed *models.Command

	err := s.db.Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&models.Command{}).
			Where("device_id = ? AND status = ?", deviceID, models.CommandStatusQueued).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Order("created_at ASC, id ASC").
			Limit(claimCandidates)
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidateIDs []string
		if err := query.Pluck("id", &candidateIDs).Error; err != nil {
			return err
		}

		for _, id := range candidateIDs {
			res := tx.Model(&models.Command{}).
				Where("id = ? AND status = ?", id, models.CommandStatusQueued).
				Updates(map[string]interface{}{
					"status":     models.CommandStatusRunning,
					"started_at": now,
					"progress":   0,
					"message":    "Starting...",
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Lost to an overlapping poll; try the next candidate.
				continue
			}

			var cmd models.Command
			if err := tx.First(&cmd, "id = ?", id).Error; err != nil {
				return err
			}
			claimed = &cmd
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Params decodes a command's stored parameter blob.
func (s *CommandService) Params(cmd *models.Command) map[string]interface{} {
	params := map[string]interface{}{}
	if cmd.ParamsJSON != "" {
		if err := json.Unmarshal([]byte(cmd.ParamsJSON), &params); err != nil {
			return map[string]interface{}{}
		}
	}
	return params
}

type StatusUpdateRequest struct {
	Status   string `json:"status" binding:"required"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// UpdateStatus applies a device-reported transition. Ownership is checked by
// device id, not user. Reporting running again is a plain progress update
// and never clears started_at; succeeded/failed stamp finished_at. Once a
// command is terminal further reports are silent no-ops: the guarded update
// matches zero rows and finished_at is preserved.
func (s *CommandService) UpdateStatus(deviceID, commandID string, req *StatusUpdateRequest) error {
	switch req.Status {
	case models.CommandStatusRunning, models.CommandStatusSucceeded, models.CommandStatusFailed:
	default:
		return ErrInvalidCommandStatus
	}
	if req.Progress < 0 || req.Progress > 100 {
		return ErrInvalidCommandStatus
	}

	var cmd models.Command
	err := s.db.Where("id = ? AND device_id = ?", commandID, deviceID).First(&cmd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if cmd.IsTerminal() {
		return nil
	}

	updates := map[string]interface{}{
		"status":   req.Status,
		"progress": req.Progress,
		"message":  req.Message,
	}
	if req.Status == models.CommandStatusSucceeded || req.Status == models.CommandStatusFailed {
		updates["finished_at"] = time.Now().UTC()
	}

	return s.db.Model(&models.Command{}).
		Where("id = ? AND status NOT IN ?", commandID,
			[]string{models.CommandStatusSucceeded, models.CommandStatusFailed}).
		Updates(updates).Error
}

// AttachResult links an uploaded report to a command and resolves it if it
// was still pending. Retried uploads for the same command overwrite the link
// instead of erroring.
func (s *CommandService) AttachResult(deviceID, commandID, reportID string) error {
	var cmd models.Command
	err := s.db.Where("id = ? AND device_id = ?", commandID, deviceID).First(&cmd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if cmd.IsTerminal() {
		return s.db.Model(&models.Command{}).Where("id = ?", commandID).
			Update("report_id", reportID).Error
	}

	return s.db.Model(&models.Command{}).
		Where("id = ? AND status NOT IN ?", commandID,
			[]string{models.CommandStatusSucceeded, models.CommandStatusFailed}).
		Updates(map[string]interface{}{
			"status":      models.CommandStatusSucceeded,
			"progress":    100,
			"message":     "Report uploaded",
			"finished_at": time.Now().UTC(),
			"report_id":   reportID,
		}).Error
}

type CommandListResult struct {
	Commands []models.Command `json:"commands"`
	Total    int64            `json:"total"`
}

// List returns a device's commands for its owner, newest first. Logically
// expired commands still show their stored status; expiry only affects
// claiming.
func (s *CommandService) List(userID, deviceID string, limit, offset int) (*CommandListResult, error) {
	var device models.Device
	err := s.db.Where("id = ? AND user_id = ?", deviceID, userID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var commands []models.Command
	if err := s.db.Where("device_id = ?", deviceID).
		Order("created_at DESC").Limit(limit).Offset(offset).
		Find(&commands).Error; err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.Model(&models.Command{}).
		Where("device_id = ?", deviceID).Count(&total).Error; err != nil {
		return nil, err
	}
	return &CommandListResult{Commands: commands, Total: total}, nil
}

// Get returns one command if its device belongs to the user.
func (s *CommandService) Get(userID, commandID string) (*models.Command, error) {
	var cmd models.Command
	err := s.db.
		Joins("JOIN devices ON devices.id = commands.device_id").
		Where("commands.id = ? AND devices.user_id = ?", commandID, userID).
		First(&cmd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}
