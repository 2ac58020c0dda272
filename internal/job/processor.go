// Package job contains the asynchronous worker that turns queued jobs into
// backups, and the reminder delivery flow. Every stage records an
// idempotency marker in the job payload before moving on, so re-running a
// stage after a partial failure repeats no side effect.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaultis/vaultis/internal/archive"
	"github.com/vaultis/vaultis/internal/budget"
	"github.com/vaultis/vaultis/internal/media"
	"github.com/vaultis/vaultis/internal/model"
	"github.com/vaultis/vaultis/internal/notify"
	"github.com/vaultis/vaultis/internal/queue"
	"github.com/vaultis/vaultis/internal/scrape"
	"github.com/vaultis/vaultis/internal/storage"
	"github.com/vaultis/vaultis/internal/store"
)

// StatusEvent is emitted whenever a job changes state, for live dashboards.
type StatusEvent struct {
	JobID  string
	UserID string
	Status model.JobStatus
	Stage  string
}

// SnapshotRunner is one budget-bounded scrape run.
type SnapshotRunner interface {
	Run(ctx context.Context, username string) (*scrape.Snapshot, error)
}

// CollectorFactory binds a runner to the immutable plan computed at
// dispatch time.
type CollectorFactory func(plan budget.Plan) SnapshotRunner

type archiveInspector interface {
	Inspect(ctx context.Context, objectPath string) (*archive.Summary, error)
}

type stagingStorage interface {
	ObjectStat(ctx context.Context, objectPath string) (bool, int64, error)
	Copy(ctx context.Context, src, dst string) error
	Discard(ctx context.Context, stagedPath string) error
}

// Processor consumes queue events and drives jobs to a terminal state.
// Exactly one worker processes a given job at a time; different jobs run
// fully in parallel.
type Processor struct {
	jobs         *store.JobStore
	backups      *store.BackupStore
	media        *store.MediaFileStore
	storage      stagingStorage
	inspector    archiveInspector
	newCollector CollectorFactory
	notifier     *notify.Notifier
	matcher      media.Chain
	onEvent      func(StatusEvent)
	logger       *slog.Logger
}

func NewProcessor(
	jobs *store.JobStore,
	backups *store.BackupStore,
	mediaFiles *store.MediaFileStore,
	stagingStore stagingStorage,
	inspector archiveInspector,
	newCollector CollectorFactory,
	notifier *notify.Notifier,
	matcher media.Chain,
	onEvent func(StatusEvent),
	logger *slog.Logger,
) *Processor {
	if onEvent == nil {
		onEvent = func(StatusEvent) {}
	}
	return &Processor{
		jobs:         jobs,
		backups:      backups,
		media:        mediaFiles,
		storage:      stagingStore,
		inspector:    inspector,
		newCollector: newCollector,
		notifier:     notifier,
		matcher:      matcher,
		onEvent:      onEvent,
		logger:       logger,
	}
}

// ProcessArchiveUpload turns a staged archive upload into a backup:
// validate the staged object, create the partial backup row, move the
// archive to its canonical path, record media files, then finalize.
func (p *Processor) ProcessArchiveUpload(ctx context.Context, ev queue.ArchiveUploadRequested) error {
	job, err := p.jobs.GetByID(ev.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		p.logger.Error("archive upload event for unknown job", "job_id", ev.JobID)
		return nil
	}
	if job.Status.Terminal() {
		return nil
	}

	if err := p.setStatus(job, model.JobStatusProcessing, "validating"); err != nil {
		return err
	}

	exists, size, err := p.storage.ObjectStat(ctx, ev.InputStoragePath)
	if err != nil {
		return fmt.Errorf("stat staged archive: %w", err)
	}
	if !exists {
		p.failJob(ctx, job, "staged archive not found")
		return nil
	}

	backupID := job.PayloadString(model.PayloadPartialBackupID)
	if backupID == "" {
		b, err := p.backups.Create(ev.UserID, p.initialBackupData(job, ev.Username))
		if err != nil {
			return fmt.Errorf("create partial backup: %w", err)
		}
		backupID = b.ID
		if job, err = p.jobs.MergePayload(job.ID, map[string]any{
			model.PayloadPartialBackupID: backupID,
		}); err != nil {
			return fmt.Errorf("record partial backup id: %w", err)
		}
	}

	canonical := storage.CanonicalArchivePath(ev.UserID, backupID)
	if job.PayloadString(model.PayloadArchiveCopiedAt) == "" {
		if err := p.storage.Copy(ctx, ev.InputStoragePath, canonical); err != nil {
			return fmt.Errorf("copy archive to canonical path: %w", err)
		}
		if err := p.backups.SetArchivePath(backupID, canonical); err != nil {
			return fmt.Errorf("record archive path: %w", err)
		}
		if _, err := p.backups.MergeData(backupID, map[string]any{
			model.BackupDataArchiveSizeBytes: size,
		}); err != nil {
			return fmt.Errorf("record archive size: %w", err)
		}
		if err := p.storage.Discard(ctx, ev.InputStoragePath); err != nil {
			p.logger.Warn("discard staged archive", "path", ev.InputStoragePath, "error", err)
		}
		if job, err = p.jobs.MergePayload(job.ID, map[string]any{
			model.PayloadArchiveCopiedAt: nowStamp(),
		}); err != nil {
			return fmt.Errorf("record archive copy: %w", err)
		}
	}

	if job.PayloadString(model.PayloadMediaRecordedAt) == "" {
		summary, err := p.inspector.Inspect(ctx, canonical)
		if err != nil {
			p.failJob(ctx, job, fmt.Sprintf("archive could not be read: %v", err))
			return nil
		}
		for i, name := range summary.MediaCandidates {
			kind := p.matcher.Classify(media.Candidate{FileName: name, Index: i})
			if _, err := p.media.Create(backupID, canonical, name, kind); err != nil {
				return fmt.Errorf("record media file: %w", err)
			}
		}
		if _, err := p.backups.MergeData(backupID, map[string]any{
			model.BackupDataCounts: map[string]any{
				"files": summary.FileCount,
				"media": len(summary.MediaCandidates),
			},
		}); err != nil {
			return fmt.Errorf("record archive counts: %w", err)
		}
		if job, err = p.jobs.MergePayload(job.ID, map[string]any{
			model.PayloadMediaRecordedAt: nowStamp(),
		}); err != nil {
			return fmt.Errorf("record media stage: %w", err)
		}
	}

	return p.finalize(job, backupID, ev.Username)
}

// ProcessSnapshotScrape builds a backup from a budget-bounded provider
// scrape. The spend ceiling arrives precomputed in the event and is never
// re-derived here.
func (p *Processor) ProcessSnapshotScrape(ctx context.Context, ev queue.SnapshotScrapeRequested) error {
	job, err := p.jobs.GetByID(ev.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		p.logger.Error("scrape event for unknown job", "job_id", ev.JobID)
		return nil
	}
	if job.Status.Terminal() {
		return nil
	}

	if err := p.setStatus(job, model.JobStatusProcessing, "scraping"); err != nil {
		return err
	}

	backupID := job.PayloadString(model.PayloadCreatedBackupID)
	if backupID == "" {
		snap, err := p.newCollector(ev.Budget).Run(ctx, ev.Username)
		if err != nil {
			return fmt.Errorf("scrape run: %w", err)
		}

		data := p.initialBackupData(job, ev.Username)
		data[model.BackupDataProfile] = map[string]any{
			"display_name":    snap.Profile.DisplayName,
			"bio":             snap.Profile.Bio,
			"followers_count": snap.Profile.FollowersCount,
			"following_count": snap.Profile.FollowingCount,
			"tweet_count":     snap.Profile.TweetCount,
		}
		data[model.BackupDataCounts] = map[string]any{
			"timeline":     len(snap.Timeline),
			"social_graph": len(snap.SocialGraph),
		}
		data[model.BackupDataAPISpentUSD] = snap.SpentUSD

		b, err := p.backups.Create(ev.UserID, data)
		if err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
		backupID = b.ID

		// One merge marks collection done and records spend, so a retry
		// neither re-runs the paid fetch nor double-counts it.
		if job, err = p.jobs.MergePayload(job.ID, map[string]any{
			model.PayloadCreatedBackupID:      backupID,
			model.PayloadTimelineFetchedAt:    nowStamp(),
			model.PayloadSocialGraphFetchedAt: nowStamp(),
			model.PayloadAPISpentUSD:          snap.SpentUSD,
		}); err != nil {
			return fmt.Errorf("record scrape result: %w", err)
		}
	}

	return p.finalize(job, backupID, ev.Username)
}

func (p *Processor) finalize(job *model.Job, backupID, username string) error {
	if err := p.jobs.SetResult(job.ID, backupID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	refreshed, err := p.jobs.GetByID(job.ID)
	if err != nil || refreshed == nil {
		refreshed = job
	}
	p.notifier.BackupCompleted(refreshed, backupID, username)
	p.onEvent(StatusEvent{JobID: job.ID, UserID: job.UserID, Status: model.JobStatusCompleted, Stage: "done"})
	p.logger.Info("job completed", "job_id", job.ID, "backup_id", backupID)
	return nil
}

func (p *Processor) setStatus(job *model.Job, status model.JobStatus, stage string) error {
	if job.Status == status {
		return nil
	}
	if err := p.jobs.UpdateStatus(job.ID, status); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	job.Status = status
	p.onEvent(StatusEvent{JobID: job.ID, UserID: job.UserID, Status: status, Stage: stage})
	return nil
}

// AbandonJob marks a job failed after event delivery retries are
// exhausted, preserving the final error in the payload. Terminal jobs are
// left alone.
func (p *Processor) AbandonJob(ctx context.Context, jobID string, cause error) {
	job, err := p.jobs.GetByID(jobID)
	if err != nil {
		p.logger.Error("load abandoned job", "job_id", jobID, "error", err)
		return
	}
	if job == nil || job.Status.Terminal() {
		return
	}
	p.failJob(ctx, job, cause.Error())
}

// failJob marks a permanent failure: the error text is preserved in the
// payload so the job row remains a useful audit record, and any
// half-written backup is removed so nothing orphaned lingers in the
// account.
func (p *Processor) failJob(ctx context.Context, job *model.Job, msg string) {
	if updated, err := p.jobs.MergePayload(job.ID, map[string]any{model.PayloadError: msg}); err != nil {
		p.logger.Error("record job error", "job_id", job.ID, "error", err)
	} else {
		job = updated
	}
	if err := p.jobs.UpdateStatus(job.ID, model.JobStatusFailed); err != nil {
		p.logger.Error("fail job", "job_id", job.ID, "error", err)
	}
	p.discardPartialBackups(ctx, job)
	p.onEvent(StatusEvent{JobID: job.ID, UserID: job.UserID, Status: model.JobStatusFailed, Stage: "failed"})
	p.logger.Warn("job failed", "job_id", job.ID, "reason", msg)
}

// discardPartialBackups deletes backup rows a failed job created but never
// finished, along with their media rows and stored archive. Without this
// the rows would be hidden from listings forever yet still count against
// the account.
func (p *Processor) discardPartialBackups(ctx context.Context, job *model.Job) {
	seen := map[string]bool{}
	for _, key := range []string{model.PayloadPartialBackupID, model.PayloadCreatedBackupID} {
		id := job.PayloadString(key)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		b, err := p.backups.GetByID(id)
		if err != nil || b == nil {
			continue
		}
		if err := p.storage.Discard(ctx, storage.CanonicalArchivePath(b.UserID, b.ID)); err != nil {
			p.logger.Warn("discard abandoned archive", "backup_id", id, "error", err)
		}
		if err := p.media.DeleteByBackup(id); err != nil {
			p.logger.Error("delete abandoned media rows", "backup_id", id, "error", err)
			continue
		}
		if err := p.backups.Delete(id); err != nil {
			p.logger.Error("delete abandoned backup", "backup_id", id, "error", err)
		}
	}
}

// initialBackupData seeds the backup document, carrying the guest retention
// window over from the job when one was requested.
func (p *Processor) initialBackupData(job *model.Job, username string) map[string]any {
	data := map[string]any{
		model.BackupDataUsername: username,
	}
	if expires, ok := job.Payload[model.PayloadGuestExpiresAtMs].(float64); ok && expires > 0 {
		data[model.BackupDataRetention] = map[string]any{
			model.RetentionClass:       model.RetentionClassGuest,
			model.RetentionExpiresAtMs: expires,
		}
	}
	return data
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
