package store

import (
	"database/sql"
	"fmt"

	"github.com/vaultis/vaultis/internal/model"
)

type MediaFileStore struct {
	db *sql.DB
}

func NewMediaFileStore(db *sql.DB) *MediaFileStore {
	return &MediaFileStore{db: db}
}

func (s *MediaFileStore) Create(backupID, filePath, fileName string, mediaType model.MediaType) (*model.MediaFile, error) {
	result, err := s.db.Exec(
		`INSERT INTO media_files (backup_id, file_path, file_name, media_type) VALUES (?, ?, ?, ?)`,
		backupID, filePath, fileName, mediaType,
	)
	if err != nil {
		return nil, fmt.Errorf("create media file: %w", err)
	}
	id, _ := result.LastInsertId()
	return &model.MediaFile{
		ID:        id,
		BackupID:  backupID,
		FilePath:  filePath,
		FileName:  fileName,
		MediaType: mediaType,
	}, nil
}

func (s *MediaFileStore) ListByBackup(backupID string) ([]model.MediaFile, error) {
	rows, err := s.db.Query(
		`SELECT id, backup_id, file_path, file_name, media_type, created_at
		 FROM media_files WHERE backup_id = ? ORDER BY id`, backupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list media files: %w", err)
	}
	defer rows.Close()

	var files []model.MediaFile
	for rows.Next() {
		var m model.MediaFile
		if err := rows.Scan(&m.ID, &m.BackupID, &m.FilePath, &m.FileName, &m.MediaType, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan media file: %w", err)
		}
		files = append(files, m)
	}
	return files, rows.Err()
}

func (s *MediaFileStore) DeleteByBackup(backupID string) error {
	_, err := s.db.Exec(`DELETE FROM media_files WHERE backup_id = ?`, backupID)
	if err != nil {
		return fmt.Errorf("delete media files: %w", err)
	}
	return nil
}
