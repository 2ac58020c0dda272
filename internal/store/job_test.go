package store

import (
	"testing"
	"time"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/database"
	"github.com/vaultis/vaultis/internal/model"
)

func setupJobTestDB(t *testing.T) (*JobStore, *UserStore, string) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := NewUserStore(db)
	u, err := users.Create("test@example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return NewJobStore(db), users, u.ID
}

func TestJobCreate(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	j, err := jobs.Create(userID, model.JobKindArchiveUpload, map[string]any{
		model.PayloadUsername: "alice",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if j.ID == "" {
		t.Error("expected non-empty ID")
	}
	if j.Status != model.JobStatusQueued {
		t.Errorf("status = %q, want %q", j.Status, model.JobStatusQueued)
	}

	got, err := jobs.GetByID(j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.PayloadString(model.PayloadUsername) != "alice" {
		t.Errorf("username = %q, want %q", got.PayloadString(model.PayloadUsername), "alice")
	}
}

func TestJobGetByIDMissing(t *testing.T) {
	jobs, _, _ := setupJobTestDB(t)

	got, err := jobs.GetByID("nope")
	if err != nil {
		t.Fatalf("get missing job: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing job, got %+v", got)
	}
}

func TestMergePayloadPreservesUntouchedKeys(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	j, _ := jobs.Create(userID, model.JobKindArchiveUpload, map[string]any{
		model.PayloadUsername: "alice",
		"custom_key":          "kept",
	})

	merged, err := jobs.MergePayload(j.ID, map[string]any{
		model.PayloadPartialBackupID: "b-1",
	})
	if err != nil {
		t.Fatalf("merge payload: %v", err)
	}
	if merged.PayloadString(model.PayloadUsername) != "alice" {
		t.Error("existing key was lost by merge")
	}
	if merged.PayloadString("custom_key") != "kept" {
		t.Error("unknown key was lost by merge")
	}
	if merged.PayloadString(model.PayloadPartialBackupID) != "b-1" {
		t.Error("merged key missing")
	}
}

func TestMergePayloadNilDeletesKey(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	j, _ := jobs.Create(userID, model.JobKindArchiveUpload, map[string]any{
		model.PayloadError: "boom",
	})

	merged, err := jobs.MergePayload(j.ID, map[string]any{
		model.PayloadError: nil,
	})
	if err != nil {
		t.Fatalf("merge payload: %v", err)
	}
	if _, ok := merged.Payload[model.PayloadError]; ok {
		t.Error("nil value should delete the key")
	}
}

func TestMergePayloadMissingJob(t *testing.T) {
	jobs, _, _ := setupJobTestDB(t)

	_, err := jobs.MergePayload("nope", map[string]any{"k": "v"})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("kind = %v, want NotFound", apperr.KindOf(err))
	}
}

func TestSetResultCompletesJob(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	j, _ := jobs.Create(userID, model.JobKindSnapshotScrape, nil)
	if err := jobs.SetResult(j.ID, "backup-1"); err != nil {
		t.Fatalf("set result: %v", err)
	}

	got, _ := jobs.GetByID(j.ID)
	if got.Status != model.JobStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.ResultBackupID != "backup-1" {
		t.Errorf("result_backup_id = %q, want backup-1", got.ResultBackupID)
	}
}

func TestFindActiveForUser(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	j, _ := jobs.Create(userID, model.JobKindArchiveUpload, nil)

	active, err := jobs.FindActiveForUser(userID, 30*time.Minute, time.Now().UTC())
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active == nil || active.ID != j.ID {
		t.Fatalf("expected job %s to be active", j.ID)
	}

	// Completed jobs release the slot.
	if err := jobs.SetResult(j.ID, "b-1"); err != nil {
		t.Fatalf("set result: %v", err)
	}
	active, err = jobs.FindActiveForUser(userID, 30*time.Minute, time.Now().UTC())
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active != nil {
		t.Errorf("completed job should not be active, got %+v", active)
	}
}

func TestFindActiveForUserReconcilesStale(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	j, _ := jobs.Create(userID, model.JobKindArchiveUpload, nil)

	// A job untouched for longer than staleAfter is force-failed.
	active, err := jobs.FindActiveForUser(userID, 30*time.Minute, time.Now().UTC().Add(31*time.Minute))
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active != nil {
		t.Errorf("stale job should not be returned as active")
	}

	got, _ := jobs.GetByID(j.ID)
	if got.Status != model.JobStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.PayloadString(model.PayloadError) == "" {
		t.Error("reconciled job should record an error in the payload")
	}
}

func TestHiddenBackupIDs(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	inflight, _ := jobs.Create(userID, model.JobKindArchiveUpload, nil)
	if _, err := jobs.MergePayload(inflight.ID, map[string]any{
		model.PayloadPartialBackupID: "partial-1",
	}); err != nil {
		t.Fatalf("merge payload: %v", err)
	}

	done, _ := jobs.Create(userID, model.JobKindSnapshotScrape, map[string]any{
		model.PayloadCreatedBackupID: "created-1",
	})
	if err := jobs.SetResult(done.ID, "created-1"); err != nil {
		t.Fatalf("set result: %v", err)
	}

	hidden, err := jobs.HiddenBackupIDs(userID)
	if err != nil {
		t.Fatalf("hidden backup ids: %v", err)
	}
	if !hidden["partial-1"] {
		t.Error("in-flight partial backup should be hidden")
	}
	if hidden["created-1"] {
		t.Error("completed job's backup should be visible")
	}
}

func TestListReminderPending(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	j, _ := jobs.Create(userID, model.JobKindArchiveUpload, map[string]any{
		model.PayloadReminderState: string(model.ReminderRequested),
		model.PayloadReminderEmail: "alice@example.com",
	})

	// Not completed yet: must not show up.
	pending, err := jobs.ListReminderPending(10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("got %d pending, want 0", len(pending))
	}

	if err := jobs.SetResult(j.ID, "b-1"); err != nil {
		t.Fatalf("set result: %v", err)
	}
	pending, err = jobs.ListReminderPending(10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != j.ID {
		t.Fatalf("expected job %s pending, got %+v", j.ID, pending)
	}
}

func TestMonthlySpentUSD(t *testing.T) {
	jobs, _, userID := setupJobTestDB(t)

	j, _ := jobs.Create(userID, model.JobKindSnapshotScrape, nil)
	if _, err := jobs.MergePayload(j.ID, map[string]any{
		model.PayloadAPISpentUSD: 4.5,
	}); err != nil {
		t.Fatalf("merge payload: %v", err)
	}

	spent, err := jobs.MonthlySpentUSD(time.Now().UTC())
	if err != nil {
		t.Fatalf("monthly spent: %v", err)
	}
	if spent != 4.5 {
		t.Errorf("spent = %v, want 4.5", spent)
	}
}
