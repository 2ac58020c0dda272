package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultis/vaultis/internal/model"
)

type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

func (s *BackupStore) Create(userID string, data map[string]any) (*model.Backup, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal backup data: %w", err)
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO backups (id, user_id, data, uploaded_at) VALUES (?, ?, ?, ?)`,
		id, userID, string(raw), now,
	)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	return &model.Backup{ID: id, UserID: userID, Data: data, UploadedAt: now}, nil
}

func (s *BackupStore) GetByID(id string) (*model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(
		`SELECT id, user_id, data, archive_file_path, uploaded_at FROM backups WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return b, nil
}

func (s *BackupStore) ListByUser(userID string) ([]model.Backup, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, data, archive_file_path, uploaded_at
		 FROM backups WHERE user_id = ? ORDER BY uploaded_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

// MergeData applies patch to the backup's data document, overwriting
// top-level keys and preserving the rest.
func (s *BackupStore) MergeData(id string, patch map[string]any) (*model.Backup, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT data FROM backups WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("read backup data: %w", err)
	}

	data := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("decode backup data: %w", err)
		}
	}
	for k, v := range patch {
		if v == nil {
			delete(data, k)
			continue
		}
		data[k] = v
	}

	merged, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode backup data: %w", err)
	}
	if _, err := tx.Exec(`UPDATE backups SET data = ? WHERE id = ?`, string(merged), id); err != nil {
		return nil, fmt.Errorf("write backup data: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	return s.GetByID(id)
}

// SetArchivePath records the canonical archive object path both in the
// column and inside the data document, since older rows only carry one.
func (s *BackupStore) SetArchivePath(id, path string) error {
	if _, err := s.MergeData(id, map[string]any{model.BackupDataArchiveFilePath: path}); err != nil {
		return fmt.Errorf("merge archive path: %w", err)
	}
	_, err := s.db.Exec(`UPDATE backups SET archive_file_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("set archive path: %w", err)
	}
	return nil
}

func (s *BackupStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	return nil
}

// ListGuestExpired returns up to limit guest backups whose retention window
// closed at or before nowMs, system-wide, oldest first. Used by the sweep.
func (s *BackupStore) ListGuestExpired(nowMs int64, limit int) ([]model.Backup, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, data, archive_file_path, uploaded_at
		 FROM backups
		 WHERE json_extract(data, '$.retention.class') = ?
		   AND json_extract(data, '$.retention.expires_at_ms') <= ?
		 ORDER BY uploaded_at ASC LIMIT ?`,
		model.RetentionClassGuest, nowMs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired guest backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

// TotalArchiveBytes sums stored archive sizes for the user's backups, for
// quota accounting.
func (s *BackupStore) TotalArchiveBytes(userID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(json_extract(data, '$.archive_size_bytes')) FROM backups WHERE user_id = ?`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total archive bytes: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

func scanBackup(row rowScanner) (*model.Backup, error) {
	b := &model.Backup{}
	var raw string
	var archivePath sql.NullString
	if err := row.Scan(&b.ID, &b.UserID, &raw, &archivePath, &b.UploadedAt); err != nil {
		return nil, err
	}
	b.ArchiveFilePath = archivePath.String
	b.Data = map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &b.Data); err != nil {
			return nil, fmt.Errorf("decode backup data: %w", err)
		}
	}
	return b, nil
}
