package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/model"
)

// activeScanWindow bounds how many recent jobs FindActiveForUser inspects.
const activeScanWindow = 10

type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(userID string, kind model.JobKind, payload map[string]any) (*model.Job, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO jobs (id, user_id, kind, status, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, kind, model.JobStatusQueued, string(raw), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &model.Job{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Status:    model.JobStatusQueued,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *JobStore) GetByID(id string) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRow(
		`SELECT id, user_id, kind, status, payload, result_backup_id, created_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *JobStore) ListRecentByUser(userID string, limit int) ([]model.Job, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, kind, status, payload, result_backup_id, created_at, updated_at
		 FROM jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// MergePayload applies patch to the job's payload with last-writer-wins per
// field: each key overwrites the stored value, a nil value deletes the key,
// and keys absent from patch are preserved exactly. The merged map is written
// back in a single update inside a transaction.
func (s *JobStore) MergePayload(id string, patch map[string]any) (*model.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT payload FROM jobs WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.KindNotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	payload := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	for k, v := range patch {
		if v == nil {
			delete(payload, k)
			continue
		}
		payload[k] = v
	}

	merged, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`UPDATE jobs SET payload = ?, updated_at = ? WHERE id = ?`,
		string(merged), now, id,
	); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	return s.GetByID(id)
}

func (s *JobStore) UpdateStatus(id string, status model.JobStatus) error {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.KindNotFound, "job %s not found", id)
	}
	return nil
}

// SetResult records the produced backup and marks the job completed.
func (s *JobStore) SetResult(id, backupID string) error {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, result_backup_id = ?, updated_at = ? WHERE id = ?`,
		model.JobStatusCompleted, backupID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set job result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.KindNotFound, "job %s not found", id)
	}
	return nil
}

// FindActiveForUser is the sole gate enforcing "one active job per user".
// It scans the user's most recent jobs; a queued/processing job last touched
// within staleAfter is returned as active, while one stuck beyond the
// threshold is reconciled to failed so a new job can start. Safe to call
// concurrently: reconciliation of an already-failed row is a no-op.
func (s *JobStore) FindActiveForUser(userID string, staleAfter time.Duration, now time.Time) (*model.Job, error) {
	jobs, err := s.ListRecentByUser(userID, activeScanWindow)
	if err != nil {
		return nil, err
	}

	for i := range jobs {
		j := &jobs[i]
		if !j.Status.Active() {
			continue
		}
		if now.Sub(j.UpdatedAt) <= staleAfter {
			return j, nil
		}
		if err := s.reconcileStale(j.ID); err != nil {
			return nil, fmt.Errorf("reconcile stale job %s: %w", j.ID, err)
		}
	}
	return nil, nil
}

func (s *JobStore) reconcileStale(id string) error {
	if _, err := s.MergePayload(id, map[string]any{
		model.PayloadError: "stale job reconciled",
	}); err != nil {
		return err
	}
	return s.UpdateStatus(id, model.JobStatusFailed)
}

// HiddenBackupIDs returns backup ids referenced by the user's in-flight job
// payloads. A half-written backup row must not surface in listings until its
// job completes and the id becomes the completed job's result.
func (s *JobStore) HiddenBackupIDs(userID string) (map[string]bool, error) {
	jobs, err := s.ListRecentByUser(userID, activeScanWindow)
	if err != nil {
		return nil, err
	}

	hidden := map[string]bool{}
	for i := range jobs {
		j := &jobs[i]
		if j.Status == model.JobStatusCompleted {
			continue
		}
		for _, key := range []string{model.PayloadPartialBackupID, model.PayloadCreatedBackupID} {
			if id := j.PayloadString(key); id != "" {
				hidden[id] = true
			}
		}
		if j.ResultBackupID != "" {
			hidden[j.ResultBackupID] = true
		}
	}
	return hidden, nil
}

// ListReminderPending returns completed jobs whose reminder is still parked
// as requested, for the hourly delivery cycle.
func (s *JobStore) ListReminderPending(limit int) ([]model.Job, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, kind, status, payload, result_backup_id, created_at, updated_at
		 FROM jobs
		 WHERE status = ?
		   AND result_backup_id IS NOT NULL
		   AND json_extract(payload, '$.reminder_state') = ?
		 ORDER BY updated_at ASC LIMIT ?`,
		model.JobStatusCompleted, model.ReminderRequested, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminder pending: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// MonthlySpentUSD sums recorded scrape spend for jobs created since the
// start of the current month.
func (s *JobStore) MonthlySpentUSD(now time.Time) (float64, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var total sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT SUM(json_extract(payload, '$.api_spent_usd'))
		 FROM jobs WHERE kind = ? AND created_at >= ?`,
		model.JobKindSnapshotScrape, monthStart,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("monthly spend: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Float64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	j := &model.Job{}
	var raw string
	var result sql.NullString
	if err := row.Scan(&j.ID, &j.UserID, &j.Kind, &j.Status, &raw, &result, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.ResultBackupID = result.String
	j.Payload = map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return j, nil
}
