package services

import (
	"errors"
	"testing"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/utils"
	"gorm.io/gorm"
)

func newAuthService(db *gorm.DB) *AuthService {
	utils.SetJWTSecret("test-secret")
	return NewAuthService(db, &config.JWTConfig{Secret: "test-secret", ExpireHour: 24}, testPolicy())
}

func TestRegisterAndLogin(t *testing.T) {
	db := newTestDB(t)
	svc := newAuthService(db)

	user, err := svc.Register(&RegisterRequest{Email: "Alice@Example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Email = %q, expected lowercased", user.Email)
	}

	if _, err := svc.Register(&RegisterRequest{Email: "alice@example.com", Password: "other"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate Register() error = %v, expected ErrEmailTaken", err)
	}

	result, err := svc.Login(&LoginRequest{Email: "alice@example.com", Password: "password123"}, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Error("Login() returned empty tokens")
	}

	claims, err := utils.ParseToken(result.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != user.ID {
		t.Errorf("claims.UserID = %q, expected %q", claims.UserID, user.ID)
	}

	if _, err := svc.Login(&LoginRequest{Email: "alice@example.com", Password: "wrong"}, "", ""); !errors.Is(err, ErrInvalidLogin) {
		t.Errorf("wrong password Login() error = %v, expected ErrInvalidLogin", err)
	}
	if _, err := svc.Login(&LoginRequest{Email: "nobody@example.com", Password: "password123"}, "", ""); !errors.Is(err, ErrInvalidLogin) {
		t.Errorf("unknown email Login() error = %v, expected ErrInvalidLogin", err)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	db := newTestDB(t)
	svc := newAuthService(db)

	if _, err := svc.Register(&RegisterRequest{Email: "bob@example.com", Password: "password123"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	login, err := svc.Login(&LoginRequest{Email: "bob@example.com", Password: "password123"}, "", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	refreshed, err := svc.Refresh(login.RefreshToken, "", "")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("Refresh() returned the same token, expected rotation")
	}

	// The consumed token must not work twice.
	if _, err := svc.Refresh(login.RefreshToken, "", ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("replayed Refresh() error = %v, expected ErrInvalidRefreshToken", err)
	}

	// The replacement still works.
	if _, err := svc.Refresh(refreshed.RefreshToken, "", ""); err != nil {
		t.Errorf("Refresh() with rotated token error = %v", err)
	}
}

func TestRevokeRefreshToken(t *testing.T) {
	db := newTestDB(t)
	svc := newAuthService(db)

	if _, err := svc.Register(&RegisterRequest{Email: "carol@example.com", Password: "password123"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	login, err := svc.Login(&LoginRequest{Email: "carol@example.com", Password: "password123"}, "", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := svc.RevokeRefreshToken(login.RefreshToken); err != nil {
		t.Fatalf("RevokeRefreshToken() error = %v", err)
	}
	if _, err := svc.Refresh(login.RefreshToken, "", ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("Refresh() after revoke error = %v, expected ErrInvalidRefreshToken", err)
	}

	// Revoking garbage is a no-op.
	if err := svc.RevokeRefreshToken("rt_unknown"); err != nil {
		t.Errorf("RevokeRefreshToken(unknown) error = %v", err)
	}
}
