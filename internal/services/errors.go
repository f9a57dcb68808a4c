package services

import "errors"

// Sentinel errors returned by the service layer. Handlers map these onto
// HTTP responses; the distinctions matter to clients:
//   - conflict ("someone else already did this") is not "not found"
//   - expired is not "invalid", so operators get an actionable message
//   - not-found and not-owned are deliberately the same error
var (
	ErrInvalidEnrollToken = errors.New("invalid enrollment token")
	ErrEnrollTokenUsed    = errors.New("enrollment token already used")
	ErrEnrollTokenExpired = errors.New("enrollment token expired")

	ErrInvalidCredential = errors.New("invalid or revoked device token")

	ErrNotFound       = errors.New("not found")
	ErrAlreadyRevoked = errors.New("device already revoked")
	ErrDeviceRevoked  = errors.New("device is revoked")

	ErrInvalidUploadLevel = errors.New("invalid upload level")

	ErrInvalidCommandType   = errors.New("invalid command type")
	ErrInvalidCommandStatus = errors.New("invalid command status")
	ErrInvalidTokenTTL      = errors.New("token TTL out of allowed range")
	ErrReportTooLarge       = errors.New("report payload too large")

	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidLogin        = errors.New("invalid email or password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)
