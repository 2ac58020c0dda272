package model

import "time"

// Backup is the durable result of a completed job. Data is a nested JSON
// document (profile info, counts, retention metadata, optionally an embedded
// archive path); ArchiveFilePath is the column copy, which may be absent for
// rows written before the column existed.
type Backup struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Data            map[string]any `json:"data"`
	ArchiveFilePath string         `json:"archive_file_path,omitempty"`
	UploadedAt      time.Time      `json:"uploaded_at"`
}

// Data keys used by the orchestration layer. The document is otherwise
// open-ended.
const (
	BackupDataUsername         = "username"
	BackupDataProfile          = "profile"
	BackupDataCounts           = "counts"
	BackupDataRetention        = "retention"
	BackupDataArchiveFilePath  = "archive_file_path"
	BackupDataArchiveSizeBytes = "archive_size_bytes"
	BackupDataAPISpentUSD      = "api_spent_usd"
)

// Retention metadata fields nested under BackupDataRetention.
const (
	RetentionClass       = "class"
	RetentionClassGuest  = "guest"
	RetentionExpiresAtMs = "expires_at_ms"
)

// MediaType classifies a media file attached to a backup.
type MediaType string

const (
	MediaTypeProfile MediaType = "profile_media"
	MediaTypeCover   MediaType = "cover_media"
	MediaTypeOther   MediaType = "other_media"
)

// MediaFile is a weak child of a backup: deleting the backup must delete the
// underlying objects these rows point at.
type MediaFile struct {
	ID        int64     `json:"id"`
	BackupID  string    `json:"backup_id"`
	FilePath  string    `json:"file_path"`
	FileName  string    `json:"file_name"`
	MediaType MediaType `json:"media_type"`
	CreatedAt time.Time `json:"created_at"`
}
