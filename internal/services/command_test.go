package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate/internal/models"
)

func TestCreateCommand_TypeAllowList(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	user := createTestUser(t, db, "ct@example.com")
	deviceID, _ := enrollTestDevice(t, db, user.ID)

	for typ := range AllowedCommandTypes {
		if _, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: typ}); err != nil {
			t.Errorf("Create(%s) error = %v", typ, err)
		}
	}

	if _, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "RM_RF"}); !errors.Is(err, ErrInvalidCommandType) {
		t.Errorf("Create(RM_RF) error = %v, expected ErrInvalidCommandType", err)
	}
}

func TestCreateCommand_RevokedDevice(t *testing.T) {
	db := newTestDB(t)
	policy := testPolicy()
	svc := NewCommandService(db, policy)
	deviceSvc := NewDeviceService(db, policy, NewEnrollTokenService(db, policy))
	user := createTestUser(t, db, "cr@example.com")
	deviceID, _ := enrollTestDevice(t, db, user.ID)

	if err := deviceSvc.Revoke(user.ID, deviceID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	if _, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "PING"}); !errors.Is(err, ErrDeviceRevoked) {
		t.Errorf("Create on revoked device error = %v, expected ErrDeviceRevoked", err)
	}
}

func TestClaimNext_FIFO(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	user := createTestUser(t, db, "fifo@example.com")
	deviceID, _ := enrollTestDevice(t, db, user.ID)

	first, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "PING"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Force a strictly older created_at for the first command; sqlite
	// timestamps can collide within one millisecond.
	db.Model(&models.Command{}).Where("id = ?", first.ID).
		Update("created_at", time.Now().UTC().Add(-time.Minute))

	second, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "RUN_FULL"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	claimed, err := svc.ClaimNext(deviceID)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("claimed %v, expected oldest command %s", claimed, first.ID)
	}
	if claimed.Status != models.CommandStatusRunning {
		t.Errorf("claimed status = %q, expected running", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("StartedAt not stamped on claim")
	}

	claimed, err = svc.ClaimNext(deviceID)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed == nil || claimed.ID != second.ID {
		t.Fatalf("second claim = %v, expected %s", claimed, second.ID)
	}

	claimed, err = svc.ClaimNext(deviceID)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed != nil {
		t.Errorf("empty queue claim = %v, expected nil", claimed)
	}
}

func TestClaimNext_ConcurrentExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	user := createTestUser(t, db, "claimrace@example.com")
	deviceID, _ := enrollTestDevice(t, db, user.ID)

	cmd, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "PING"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	claims := make([]*models.Command, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claims[n], errs[n] = svc.ClaimNext(deviceID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("ClaimNext() error = %v", errs[i])
		}
		if claims[i] != nil {
			winners++
			if claims[i].ID != cmd.ID {
				t.Errorf("claimed unexpected command %s", claims[i].ID)
			}
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, expected exactly 1", winners)
	}
}

func TestClaimNext_SkipsExpired(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	user := createTestUser(t, db, "exp@example.com")
	deviceID, _ := enrollTestDevice(t, db, user.ID)

	expired, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "PING"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	db.Model(&models.Command{}).Where("id = ?", expired.ID).Update("expires_at", past)

	live, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "RUN_FULL"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	claimed, err := svc.ClaimNext(deviceID)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed == nil || claimed.ID != live.ID {
		t.Fatalf("claimed %v, expected unexpired command %s", claimed, live.ID)
	}

	// The expired row keeps its stored status.
	var stale models.Command
	db.First(&stale, "id = ?", expired.ID)
	if stale.Status != models.CommandStatusQueued {
		t.Errorf("expired command status = %q, expected queued", stale.Status)
	}
}

func TestClaimNext_DeviceScoped(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	user := createTestUser(t, db, "scope@example.com")
	deviceA, _ := enrollTestDevice(t, db, user.ID)
	deviceB, _ := enrollTestDevice(t, db, user.ID)

	if _, err := svc.Create(user.ID, deviceA, &CommandCreateRequest{Type: "PING"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	claimed, err := svc.ClaimNext(deviceB)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed != nil {
		t.Errorf("device B claimed device A's command")
	}
}

func TestUpdateStatus_TerminalIsImmutable(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	user := createTestUser(t, db, "term@example.com")
	deviceID, _ := enrollTestDevice(t, db, user.ID)

	cmd, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "PING"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.ClaimNext(deviceID); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}

	if err := svc.UpdateStatus(deviceID, cmd.ID, &StatusUpdateRequest{
		Status: models.CommandStatusSucceeded, Progress: 100, Message: "done",
	}); err != nil {
		t.Fatalf("UpdateStatus(succeeded) error = %v", err)
	}

	var after models.Command
	db.First(&after, "id = ?", cmd.ID)
	if after.FinishedAt == nil {
		t.Fatal("FinishedAt not stamped on terminal transition")
	}
	finishedAt := *after.FinishedAt

	// A late failure report must not resurrect or restamp the command.
	if err := svc.UpdateStatus(deviceID, cmd.ID, &StatusUpdateRequest{
		Status: models.CommandStatusFailed, Progress: 50, Message: "late",
	}); err != nil {
		t.Fatalf("late UpdateStatus error = %v, expected silent no-op", err)
	}

	db.First(&after, "id = ?", cmd.ID)
	if after.Status != models.CommandStatusSucceeded {
		t.Errorf("status = %q after late report, expected succeeded", after.Status)
	}
	if after.Progress != 100 || after.Message != "done" {
		t.Errorf("terminal fields mutated: progress=%d message=%q", after.Progress, after.Message)
	}
	if !after.FinishedAt.Equal(finishedAt) {
		t.Errorf("FinishedAt changed from %v to %v", finishedAt, after.FinishedAt)
	}
}

func TestUpdateStatus_Validation(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	user := createTestUser(t, db, "val@example.com")
	deviceID, _ := enrollTestDevice(t, db, user.ID)

	cmd, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "PING"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := svc.UpdateStatus(deviceID, cmd.ID, &StatusUpdateRequest{Status: "queued"}); !errors.Is(err, ErrInvalidCommandStatus) {
		t.Errorf("UpdateStatus(queued) error = %v, expected ErrInvalidCommandStatus", err)
	}
	if err := svc.UpdateStatus(deviceID, cmd.ID, &StatusUpdateRequest{Status: "running", Progress: 101}); !errors.Is(err, ErrInvalidCommandStatus) {
		t.Errorf("UpdateStatus(progress=101) error = %v, expected ErrInvalidCommandStatus", err)
	}
	if err := svc.UpdateStatus("dev_other", cmd.ID, &StatusUpdateRequest{Status: "running"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStatus by wrong device error = %v, expected ErrNotFound", err)
	}
}

func TestAttachResult_ResolvesPendingCommand(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	user := createTestUser(t, db, "attach@example.com")
	deviceID, _ := enrollTestDevice(t, db, user.ID)

	cmd, err := svc.Create(user.ID, deviceID, &CommandCreateRequest{Type: "RUN_FULL"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.ClaimNext(deviceID); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}

	if err := svc.AttachResult(deviceID, cmd.ID, "rpt_1"); err != nil {
		t.Fatalf("AttachResult() error = %v", err)
	}

	var after models.Command
	db.First(&after, "id = ?", cmd.ID)
	if after.Status != models.CommandStatusSucceeded {
		t.Errorf("status = %q, expected succeeded", after.Status)
	}
	if after.ReportID == nil || *after.ReportID != "rpt_1" {
		t.Errorf("ReportID = %v, expected rpt_1", after.ReportID)
	}

	// A retried upload overwrites the link without touching terminal state.
	if err := svc.AttachResult(deviceID, cmd.ID, "rpt_2"); err != nil {
		t.Fatalf("second AttachResult() error = %v", err)
	}
	db.First(&after, "id = ?", cmd.ID)
	if after.ReportID == nil || *after.ReportID != "rpt_2" {
		t.Errorf("ReportID = %v after retry, expected rpt_2", after.ReportID)
	}
	if after.Status != models.CommandStatusSucceeded {
		t.Errorf("status = %q after retry, expected succeeded", after.Status)
	}
}

func TestListCommands_OwnershipAndOrder(t *testing.T) {
	db := newTestDB(t)
	svc := NewCommandService(db, testPolicy())
	owner := createTestUser(t, db, "lo@example.com")
	other := createTestUser(t, db, "lx@example.com")
	deviceID, _ := enrollTestDevice(t, db, owner.ID)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(owner.ID, deviceID, &CommandCreateRequest{Type: "PING"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := svc.List(owner.ID, deviceID, 2, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 3 {
		t.Errorf("Total = %d, expected 3", result.Total)
	}
	if len(result.Commands) != 2 {
		t.Errorf("page size = %d, expected 2", len(result.Commands))
	}

	if _, err := svc.List(other.ID, deviceID, 10, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("List by non-owner error = %v, expected ErrNotFound", err)
	}
}
