package model

import "time"

// JobKind identifies the ingestion path a job drives.
type JobKind string

const (
	JobKindArchiveUpload  JobKind = "archive_upload"
	JobKindSnapshotScrape JobKind = "snapshot_scrape"
)

// JobStatus follows the queued -> processing -> completed/failed lifecycle.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Active reports whether the status still occupies the user's single
// active-job slot.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// Terminal reports whether the status permits a fresh job to be created.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Payload keys. The payload is a flat, forward-compatible string-keyed map;
// stages append and overwrite their own keys and never replace the map
// wholesale. Everything outside this list is accepted and preserved as-is.
const (
	PayloadError            = "error"
	PayloadUsername         = "username"
	PayloadInputStoragePath = "input_storage_path"
	PayloadGuestExpiresAtMs = "guest_expires_at_ms"

	PayloadPartialBackupID = "partial_backup_id"
	PayloadCreatedBackupID = "created_backup_id"

	PayloadArchiveCopiedAt      = "archive_copied_at"
	PayloadMediaRecordedAt      = "media_recorded_at"
	PayloadTimelineFetchedAt    = "timeline_fetched_at"
	PayloadSocialGraphFetchedAt = "social_graph_fetched_at"
	PayloadAPISpentUSD          = "api_spent_usd"

	PayloadCompletionNotifiedAt = "completion_notified_at"

	PayloadReminderEmail           = "reminder_email"
	PayloadReminderState           = "reminder_state"
	PayloadReminderAdminNotifiedAt = "reminder_admin_notified_at"
	PayloadReminderSentAt          = "reminder_sent_at"
	PayloadReminderShareURL        = "reminder_share_url"
	PayloadReminderError           = "reminder_error"
)

// ReminderState is the delivery state machine stored in the job payload.
type ReminderState string

const (
	ReminderNone      ReminderState = ""
	ReminderRequested ReminderState = "requested"
	ReminderSent      ReminderState = "sent"
	ReminderFailed    ReminderState = "failed"
)

// Job is one tracked ingestion attempt. Rows are never physically deleted;
// newer jobs supersede older ones.
type Job struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Kind           JobKind        `json:"kind"`
	Status         JobStatus      `json:"status"`
	Payload        map[string]any `json:"payload"`
	ResultBackupID string         `json:"result_backup_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PayloadString returns the payload value for key as a string, or "" when
// absent or not a string.
func (j *Job) PayloadString(key string) string {
	if j.Payload == nil {
		return ""
	}
	s, _ := j.Payload[key].(string)
	return s
}

// ReminderState reads the reminder state machine out of the payload so
// callers never do stringly-typed lookups themselves.
func (j *Job) ReminderState() ReminderState {
	switch ReminderState(j.PayloadString(PayloadReminderState)) {
	case ReminderRequested:
		return ReminderRequested
	case ReminderSent:
		return ReminderSent
	case ReminderFailed:
		return ReminderFailed
	default:
		return ReminderNone
	}
}
