package services

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate/internal/models"
)

func TestIssue_DefaultTTL(t *testing.T) {
	db := newTestDB(t)
	svc := NewEnrollTokenService(db, testPolicy())
	user := createTestUser(t, db, "issuer@example.com")

	before := time.Now().UTC()
	issued, err := svc.Issue(user.ID, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if !strings.HasPrefix(issued.Token, "enroll_") {
		t.Errorf("token = %q, expected enroll_ prefix", issued.Token)
	}

	want := before.Add(60 * time.Minute)
	if issued.ExpiresAt.Before(want.Add(-time.Minute)) || issued.ExpiresAt.After(want.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, expected about %v", issued.ExpiresAt, want)
	}
}

func TestIssue_TTLBounds(t *testing.T) {
	db := newTestDB(t)
	svc := NewEnrollTokenService(db, testPolicy())
	user := createTestUser(t, db, "bounds@example.com")

	for _, minutes := range []int{4, 1441, -1} {
		if _, err := svc.Issue(user.ID, minutes); !errors.Is(err, ErrInvalidTokenTTL) {
			t.Errorf("Issue(%d) error = %v, expected ErrInvalidTokenTTL", minutes, err)
		}
	}
	if _, err := svc.Issue(user.ID, 5); err != nil {
		t.Errorf("Issue(5) error = %v", err)
	}
	if _, err := svc.Issue(user.ID, 1440); err != nil {
		t.Errorf("Issue(1440) error = %v", err)
	}
}

func TestIssue_StoresOnlyHash(t *testing.T) {
	db := newTestDB(t)
	svc := NewEnrollTokenService(db, testPolicy())
	user := createTestUser(t, db, "hash@example.com")

	issued, err := svc.Issue(user.ID, 60)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var count int64
	db.Model(&models.EnrollToken{}).Where("token_hash = ?", issued.Token).Count(&count)
	if count != 0 {
		t.Error("plaintext token found in token_hash column")
	}
}

func TestStatus_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	policy := testPolicy()
	svc := NewEnrollTokenService(db, policy)
	deviceSvc := NewDeviceService(db, policy, svc)
	user := createTestUser(t, db, "status@example.com")

	issued, err := svc.Issue(user.ID, 60)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	st, err := svc.Status(user.ID, issued.Token)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Status != EnrollStatusPending {
		t.Errorf("Status = %q, expected pending", st.Status)
	}

	result, err := deviceSvc.Enroll(issued.Token, &EnrollRequest{
		DeviceName: "d", Platform: "linux", Arch: "amd64",
		AgentVersion: "1.0.0", DeviceFingerprint: "fp",
	})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}

	st, err = svc.Status(user.ID, issued.Token)
	if err != nil {
		t.Fatalf("Status() after use error = %v", err)
	}
	if st.Status != EnrollStatusUsed {
		t.Errorf("Status = %q, expected used", st.Status)
	}
	if st.UsedDeviceID == nil || *st.UsedDeviceID != result.DeviceID {
		t.Errorf("UsedDeviceID = %v, expected %q", st.UsedDeviceID, result.DeviceID)
	}
}

func TestStatus_ScopedToOwner(t *testing.T) {
	db := newTestDB(t)
	svc := NewEnrollTokenService(db, testPolicy())
	owner := createTestUser(t, db, "owner@example.com")
	other := createTestUser(t, db, "other@example.com")

	issued, err := svc.Issue(owner.ID, 60)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	st, err := svc.Status(other.ID, issued.Token)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Status != EnrollStatusNotFound {
		t.Errorf("Status for non-owner = %q, expected not_found", st.Status)
	}
}

func TestStatus_Expired(t *testing.T) {
	db := newTestDB(t)
	svc := NewEnrollTokenService(db, testPolicy())
	user := createTestUser(t, db, "expired@example.com")

	issued, err := svc.Issue(user.ID, 60)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Backdate the stored expiry; no background job marks tokens expired.
	past := time.Now().UTC().Add(-time.Minute)
	if err := db.Model(&models.EnrollToken{}).
		Where("user_id = ?", user.ID).
		Update("expires_at", past).Error; err != nil {
		t.Fatalf("failed to backdate token: %v", err)
	}

	st, err := svc.Status(user.ID, issued.Token)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Status != EnrollStatusExpired {
		t.Errorf("Status = %q, expected expired", st.Status)
	}
}

func TestEnroll_ConcurrentRedeemExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	policy := testPolicy()
	tokenSvc := NewEnrollTokenService(db, policy)
	deviceSvc := NewDeviceService(db, policy, tokenSvc)
	user := createTestUser(t, db, "race@example.com")

	issued, err := tokenSvc.Issue(user.ID, 60)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = deviceSvc.Enroll(issued.Token, &EnrollRequest{
				DeviceName: "racer", Platform: "linux", Arch: "amd64",
				AgentVersion: "1.0.0", DeviceFingerprint: "fp",
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrEnrollTokenUsed) {
			t.Errorf("unexpected error from losing redeemer: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, expected exactly 1", successes)
	}

	var deviceCount int64
	db.Model(&models.Device{}).Count(&deviceCount)
	if deviceCount != 1 {
		t.Errorf("device count = %d, expected 1", deviceCount)
	}
}

func TestEnroll_FailureRollsBackRedemption(t *testing.T) {
	db := newTestDB(t)
	policy := testPolicy()
	tokenSvc := NewEnrollTokenService(db, policy)
	deviceSvc := NewDeviceService(db, policy, tokenSvc)
	user := createTestUser(t, db, "rollback@example.com")

	if _, err := deviceSvc.Enroll("enroll_bogus", &EnrollRequest{
		DeviceName: "d", Platform: "linux", Arch: "amd64",
		AgentVersion: "1.0.0", DeviceFingerprint: "fp",
	}); !errors.Is(err, ErrInvalidEnrollToken) {
		t.Errorf("Enroll with bogus token error = %v, expected ErrInvalidEnrollToken", err)
	}

	issued, err := tokenSvc.Issue(user.ID, 60)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// The token stays pending when nothing consumed it.
	st, _ := tokenSvc.Status(user.ID, issued.Token)
	if st.Status != EnrollStatusPending {
		t.Errorf("Status = %q, expected pending", st.Status)
	}
}
