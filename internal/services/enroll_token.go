package services

import (
	"errors"
	"time"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/models"
	"github.com/fleetgate/fleetgate/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Enrollment token statuses reported to the issuing user.
const (
	EnrollStatusNotFound = "not_found"
	EnrollStatusPending  = "pending"
	EnrollStatusUsed     = "used"
	EnrollStatusExpired  = "expired"
)

// EnrollTokenService owns issuance, status queries and exactly-once
// redemption of enrollment tokens.
type EnrollTokenService struct {
	db     *gorm.DB
	policy *config.PolicyConfig
}

func NewEnrollTokenService(db *gorm.DB, policy *config.PolicyConfig) *EnrollTokenService {
	return &EnrollTokenService{db: db, policy: policy}
}

type IssuedEnrollToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue mints a new enrollment token for the user. The plaintext secret is
// returned exactly once; only its hash is stored.
func (s *EnrollTokenService) Issue(userID string, expiresInMinutes int) (*IssuedEnrollToken, error) {
	if expiresInMinutes == 0 {
		expiresInMinutes = 60
	}
	if expiresInMinutes < s.policy.EnrollTokenMinMinutes || expiresInMinutes > s.policy.EnrollTokenMaxMinutes {
		return nil, ErrInvalidTokenTTL
	}

	secret, err := utils.GenerateSecret("enroll")
	if err != nil {
		return nil, err
	}

	token := models.EnrollToken{
		ID:        utils.GenerateID("et"),
		UserID:    userID,
		TokenHash: utils.HashSecret(secret),
		ExpiresAt: time.Now().UTC().Add(time.Duration(expiresInMinutes) * time.Minute),
	}
	if err := s.db.Create(&token).Error; err != nil {
		return nil, err
	}

	return &IssuedEnrollToken{Token: secret, ExpiresAt: token.ExpiresAt}, nil
}

type EnrollTokenStatus struct {
	Status       string     `json:"status"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	UsedDeviceID *string    `json:"used_device_id,omitempty"`
}

// Status reports the lifecycle state of a token. The lookup is scoped to the
// issuing user, so a wrong owner guessing a valid secret learns nothing.
func (s *EnrollTokenService) Status(userID, secret string) (*EnrollTokenStatus, error) {
	var token models.EnrollToken
	err := s.db.Where("token_hash = ? AND user_id = ?", utils.HashSecret(secret), userID).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &EnrollTokenStatus{Status: EnrollStatusNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	st := &EnrollTokenStatus{ExpiresAt: &token.ExpiresAt}
	switch {
	case token.UsedAt != nil:
		st.Status = EnrollStatusUsed
		st.UsedAt = token.UsedAt
		st.UsedDeviceID = token.UsedDeviceID
	case token.ExpiresAt.Before(time.Now().UTC()):
		st.Status = EnrollStatusExpired
	default:
		st.Status = EnrollStatusPending
	}
	return st, nil
}

// redeemTx consumes a token inside the caller's transaction. It locks the
// row, re-validates after acquiring the lock, then performs the terminal
// transition with a conditional write. A zero-row update means a concurrent
// redeemer won between our read and our write, which callers must surface as
// a conflict even though the initial read looked valid.
func (s *EnrollTokenService) redeemTx(tx *gorm.DB, secretHash, deviceID string, now time.Time) (*models.EnrollToken, error) {
	query := tx.Where("token_hash = ?", secretHash)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var token models.EnrollToken
	err := query.First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidEnrollToken
	}
	if err != nil {
		return nil, err
	}
	if token.UsedAt != nil {
		return nil, ErrEnrollTokenUsed
	}
	if token.ExpiresAt.Before(now) {
		return nil, ErrEnrollTokenExpired
	}

	res := tx.Model(&models.EnrollToken{}).
		Where("id = ? AND used_at IS NULL", token.ID).
		Updates(map[string]interface{}{
			"used_at":        now,
			"used_device_id": deviceID,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, ErrEnrollTokenUsed
	}
	return &token, nil
}
