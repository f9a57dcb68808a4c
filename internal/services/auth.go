package services

import (
	"errors"
	"strings"
	"time"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/models"
	"github.com/fleetgate/fleetgate/internal/utils"
	"gorm.io/gorm"
)

// AuthService handles operator accounts and session tokens. Access tokens
// are JWTs; refresh tokens are opaque secrets stored hashed and rotated on
// every use.
type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
	policy    *config.PolicyConfig
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, policy *config.PolicyConfig) *AuthService {
	return &AuthService{db: db, jwtConfig: jwtCfg, policy: policy}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	AccessToken     string
	AccessExpireAt  time.Time
	RefreshToken    string
	RefreshExpireAt time.Time
	User            *models.User
}

type RefreshResult struct {
	AccessToken     string
	AccessExpireAt  time.Time
	RefreshToken    string
	RefreshExpireAt time.Time
}

// Register creates a new operator account.
func (s *AuthService) Register(req *RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	err := s.db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		ID:           utils.GenerateID("usr"),
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates an operator and issues an access/refresh token pair.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(req *LoginRequest, clientIP, userAgent string) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := s.db.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidLogin
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidLogin
	}

	accessToken, err := utils.GenerateToken(user.ID, user.Email, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, err
	}

	refreshToken, err := utils.GenerateSecret("rt")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	refreshExpireAt := now.Add(time.Duration(s.policy.RefreshTokenDays) * 24 * time.Hour)
	record := models.RefreshToken{
		ID:          utils.GenerateID("rtk"),
		UserID:      user.ID,
		TokenHash:   utils.HashSecret(refreshToken),
		ExpiresAt:   refreshExpireAt,
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:     accessToken,
		AccessExpireAt:  now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
		RefreshToken:    refreshToken,
		RefreshExpireAt: refreshExpireAt,
		User:            &user,
	}, nil
}

// Refresh rotates a refresh token: the old one is revoked and linked to its
// replacement in the same transaction, so a replayed token fails validation.
func (s *AuthService) Refresh(refreshToken string, clientIP, userAgent string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	var stored models.RefreshToken
	err := s.db.Where("token_hash = ?", utils.HashSecret(refreshToken)).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if stored.RevokedAt != nil || now.After(stored.ExpiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	var user models.User
	if err := s.db.First(&user, "id = ?", stored.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	accessToken, err := utils.GenerateToken(user.ID, user.Email, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, err
	}

	newRefreshToken, err := utils.GenerateSecret("rt")
	if err != nil {
		return nil, err
	}

	replacement := models.RefreshToken{
		ID:          utils.GenerateID("rtk"),
		UserID:      user.ID,
		TokenHash:   utils.HashSecret(newRefreshToken),
		ExpiresAt:   now.Add(time.Duration(s.policy.RefreshTokenDays) * 24 * time.Hour),
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&replacement).Error; err != nil {
			return err
		}
		return tx.Model(&stored).Updates(map[string]interface{}{
			"revoked_at":           now,
			"replaced_by_token_id": replacement.ID,
		}).Error
	}); err != nil {
		return nil, err
	}

	return &RefreshResult{
		AccessToken:     accessToken,
		AccessExpireAt:  now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
		RefreshToken:    newRefreshToken,
		RefreshExpireAt: replacement.ExpiresAt,
	}, nil
}

// RevokeRefreshToken invalidates a refresh token on logout. Unknown or
// already revoked tokens are a no-op.
func (s *AuthService) RevokeRefreshToken(refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.db.Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", utils.HashSecret(refreshToken)).
		Update("revoked_at", time.Now().UTC()).Error
}

// GetUserByID loads an operator account for profile endpoints.
func (s *AuthService) GetUserByID(userID string) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
