package services

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBCounter int64

// newTestDB opens an isolated in-memory database. The pool is capped at one
// connection so concurrent test goroutines serialize on sqlite instead of
// hitting table-lock errors.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.MigrateAll(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testPolicy() *config.PolicyConfig {
	return &config.PolicyConfig{
		EnrollTokenMinMinutes:  5,
		EnrollTokenMaxMinutes:  1440,
		DeviceTokenExpiresDays: 365,
		CommandTTLHours:        24,
		OnlineWindowSeconds:    120,
		RefreshTokenDays:       30,
		MaxReportSizeBytes:     2 * 1024 * 1024,
		LogRetentionDays:       30,
	}
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := models.User{
		ID:           "usr_" + email,
		Email:        email,
		PasswordHash: "x",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return &user
}

// enrollTestDevice runs the full enrollment path and returns the device id
// and its plaintext credential.
func enrollTestDevice(t *testing.T, db *gorm.DB, userID string) (string, string) {
	t.Helper()

	policy := testPolicy()
	tokenSvc := NewEnrollTokenService(db, policy)
	deviceSvc := NewDeviceService(db, policy, tokenSvc)

	issued, err := tokenSvc.Issue(userID, 60)
	if err != nil {
		t.Fatalf("failed to issue enroll token: %v", err)
	}

	result, err := deviceSvc.Enroll(issued.Token, &EnrollRequest{
		DeviceName:        "test-device",
		Platform:          "darwin",
		Arch:              "arm64",
		AgentVersion:      "1.0.0",
		DeviceFingerprint: "fp-" + userID,
	})
	if err != nil {
		t.Fatalf("failed to enroll device: %v", err)
	}
	return result.DeviceID, result.DeviceToken
}
