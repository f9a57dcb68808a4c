package services

import (
	"errors"
	"time"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/models"
	"github.com/fleetgate/fleetgate/internal/utils"
	"github.com/fleetgate/fleetgate/pkg/logger"
	"gorm.io/gorm"
)

// DeviceService owns device identity, device credentials and revocation.
type DeviceService struct {
	db       *gorm.DB
	policy   *config.PolicyConfig
	tokenSvc *EnrollTokenService
}

func NewDeviceService(db *gorm.DB, policy *config.PolicyConfig, tokenSvc *EnrollTokenService) *DeviceService {
	return &DeviceService{db: db, policy: policy, tokenSvc: tokenSvc}
}

type EnrollRequest struct {
	DeviceName        string `json:"device_name" binding:"required"`
	Platform          string `json:"platform" binding:"required"`
	Arch              string `json:"arch" binding:"required"`
	AgentVersion      string `json:"agent_version" binding:"required"`
	DeviceFingerprint string `json:"device_fingerprint" binding:"required"`
}

type EnrollResult struct {
	DeviceID    string `json:"device_id"`
	DeviceToken string `json:"device_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// Enroll redeems an enrollment secret and creates the device, its first
// credential and its default settings in one transaction. A failure at any
// point rolls back the redemption too; a burned token with no device would
// be unrecoverable. Among concurrent redeemers of the same secret exactly
// one succeeds; the rest observe ErrEnrollTokenUsed.
func (s *DeviceService) Enroll(secret string, req *EnrollRequest) (*EnrollResult, error) {
	now := time.Now().UTC()
	tokenExpiresAt := now.Add(time.Duration(s.policy.DeviceTokenExpiresDays) * 24 * time.Hour)

	deviceToken, err := utils.GenerateSecret("devtok")
	if err != nil {
		return nil, err
	}
	deviceID := utils.GenerateID("dev")

	err = s.db.Transaction(func(tx *gorm.DB) error {
		token, err := s.tokenSvc.redeemTx(tx, utils.HashSecret(secret), deviceID, now)
		if err != nil {
			return err
		}

		device := models.Device{
			ID:              deviceID,
			UserID:          token.UserID,
			Name:            req.DeviceName,
			Platform:        req.Platform,
			Arch:            req.Arch,
			FingerprintHash: utils.HashSecret(req.DeviceFingerprint),
			AgentVersion:    req.AgentVersion,
			LastSeenAt:      &now,
		}
		if err := tx.Create(&device).Error; err != nil {
			return err
		}

		credential := models.DeviceToken{
			ID:        utils.GenerateID("dt"),
			DeviceID:  deviceID,
			TokenHash: utils.HashSecret(deviceToken),
			ExpiresAt: &tokenExpiresAt,
		}
		if err := tx.Create(&credential).Error; err != nil {
			return err
		}

		setting := models.DeviceSetting{DeviceID: deviceID, UploadLevel: "summary"}
		return tx.Create(&setting).Error
	})
	if err != nil {
		return nil, err
	}

	return &EnrollResult{
		DeviceID:    deviceID,
		DeviceToken: deviceToken,
		ExpiresIn:   int64(tokenExpiresAt.Sub(now).Seconds()),
	}, nil
}

// DeviceIdentity is the resolved caller identity for device-authenticated
// requests.
type DeviceIdentity struct {
	DeviceID   string
	UserID     string
	DeviceName string
}

// Authenticate resolves an opaque device credential. Only unrevoked,
// unexpired tokens of unrevoked devices pass. On success last_used_at and
// last_seen_at are bumped best-effort; staleness of a few hundred ms is
// acceptable and must not fail the caller's request.
func (s *DeviceService) Authenticate(credential string) (*DeviceIdentity, error) {
	now := time.Now().UTC()

	var token models.DeviceToken
	err := s.db.Where("token_hash = ? AND revoked_at IS NULL", utils.HashSecret(credential)).
		Where("expires_at IS NULL OR expires_at > ?", now).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := s.db.First(&device, "id = ?", token.DeviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	if device.RevokedAt != nil {
		return nil, ErrInvalidCredential
	}

	if err := s.db.Model(&models.DeviceToken{}).Where("id = ?", token.ID).
		Update("last_used_at", now).Error; err != nil {
		logger.Warn().Err(err).Str("device_id", device.ID).Msg("failed to bump token last_used_at")
	}
	if err := s.db.Model(&models.Device{}).Where("id = ?", device.ID).
		Update("last_seen_at", now).Error; err != nil {
		logger.Warn().Err(err).Str("device_id", device.ID).Msg("failed to bump device last_seen_at")
	}

	return &DeviceIdentity{
		DeviceID:   device.ID,
		UserID:     device.UserID,
		DeviceName: device.Name,
	}, nil
}

// Revoke permanently disables a device and every credential it holds.
// In-flight requests that already authenticated finish; the next
// authentication attempt is rejected.
func (s *DeviceService) Revoke(userID, deviceID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var device models.Device
		err := tx.Where("id = ? AND user_id = ?", deviceID, userID).First(&device).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if device.RevokedAt != nil {
			return ErrAlreadyRevoked
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.Device{}).Where("id = ?", deviceID).
			Update("revoked_at", now).Error; err != nil {
			return err
		}
		return tx.Model(&models.DeviceToken{}).
			Where("device_id = ? AND revoked_at IS NULL", deviceID).
			Update("revoked_at", now).Error
	})
}

// Delete permanently removes a device and everything it owns.
func (s *DeviceService) Delete(userID, deviceID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var device models.Device
		err := tx.Where("id = ? AND user_id = ?", deviceID, userID).First(&device).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		for _, m := range []interface{}{
			&models.DeviceToken{}, &models.Report{}, &models.Command{}, &models.DeviceSetting{},
		} {
			if err := tx.Where("device_id = ?", deviceID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Device{}, "id = ?", deviceID).Error
	})
}

// GetSettings returns a device's settings row.
func (s *DeviceService) GetSettings(deviceID string) (*models.DeviceSetting, error) {
	var setting models.DeviceSetting
	err := s.db.First(&setting, "device_id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// UpdateSettings changes a device's upload level for its owner.
func (s *DeviceService) UpdateSettings(userID, deviceID, uploadLevel string) (*models.DeviceSetting, error) {
	switch uploadLevel {
	case "summary", "full":
	default:
		return nil, ErrInvalidUploadLevel
	}

	var device models.Device
	err := s.db.Where("id = ? AND user_id = ?", deviceID, userID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.DeviceSetting{}).
		Where("device_id = ?", deviceID).
		Update("upload_level", uploadLevel).Error; err != nil {
		return nil, err
	}
	return s.GetSettings(deviceID)
}

// DeviceView is the operator-facing projection of a device with derived
// liveness.
type DeviceView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Platform     string     `json:"platform"`
	Arch         string     `json:"arch"`
	AgentVersion string     `json:"agent_version"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	IsOnline     bool       `json:"is_online"`
	IsRevoked    bool       `json:"is_revoked"`
}

type DeviceListResult struct {
	Devices []DeviceView `json:"devices"`
	Total   int          `json:"total"`
}

func (s *DeviceService) onlineWindow() time.Duration {
	return time.Duration(s.policy.OnlineWindowSeconds) * time.Second
}

func (s *DeviceService) view(d *models.Device, now time.Time) DeviceView {
	return DeviceView{
		ID:           d.ID,
		Name:         d.Name,
		Platform:     d.Platform,
		Arch:         d.Arch,
		AgentVersion: d.AgentVersion,
		CreatedAt:    d.CreatedAt,
		LastSeenAt:   d.LastSeenAt,
		IsOnline:     d.IsOnline(now, s.onlineWindow()),
		IsRevoked:    d.RevokedAt != nil,
	}
}

// List returns all devices owned by the user, most recently seen first.
func (s *DeviceService) List(userID string) (*DeviceListResult, error) {
	var devices []models.Device
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").Find(&devices).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	views := make([]DeviceView, 0, len(devices))
	for i := range devices {
		views = append(views, s.view(&devices[i], now))
	}
	return &DeviceListResult{Devices: views, Total: len(views)}, nil
}

type DeviceDetail struct {
	DeviceView
	RecentCommands []models.Command `json:"recent_commands"`
	LatestReport   *models.Report   `json:"latest_report,omitempty"`
}

// Get returns one owned device with its recent commands and latest report.
func (s *DeviceService) Get(userID, deviceID string) (*DeviceDetail, error) {
	var device models.Device
	err := s.db.Where("id = ? AND user_id = ?", deviceID, userID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var commands []models.Command
	if err := s.db.Where("device_id = ?", deviceID).
		Order("created_at DESC").Limit(10).Find(&commands).Error; err != nil {
		return nil, err
	}

	var report models.Report
	detail := &DeviceDetail{
		DeviceView:     s.view(&device, time.Now().UTC()),
		RecentCommands: commands,
	}
	err = s.db.Where("device_id = ?", deviceID).
		Order("created_at DESC").First(&report).Error
	if err == nil {
		detail.LatestReport = &report
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return detail, nil
}
