package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/model"
	"github.com/vaultis/vaultis/internal/store"
)

// defaultSweepLimit bounds per-run work for the scheduled sweep.
const defaultSweepLimit = 100

type objectStorage interface {
	DeleteAll(ctx context.Context, paths []string) error
	ResolveArchivePath(ctx context.Context, b *model.Backup) (string, error)
}

// Collector deletes expired guest backups. It runs lazily on every listing
// and daily via the scheduled sweep.
type Collector struct {
	backups    *store.BackupStore
	media      *store.MediaFileStore
	jobs       *store.JobStore
	storage    objectStorage
	sweepLimit int
	logger     *slog.Logger
}

func NewCollector(backups *store.BackupStore, media *store.MediaFileStore, jobs *store.JobStore, storage objectStorage, sweepLimit int, logger *slog.Logger) *Collector {
	if sweepLimit <= 0 {
		sweepLimit = defaultSweepLimit
	}
	return &Collector{
		backups:    backups,
		media:      media,
		jobs:       jobs,
		storage:    storage,
		sweepLimit: sweepLimit,
		logger:     logger,
	}
}

// DeleteBackupAndStorage removes a backup's objects and rows. Ownership is
// re-verified against expectedUserID first: if the row changed hands the
// deletion is refused. Storage deletes are best-effort (a missing object is
// not fatal to row deletion), but the row is only deleted after the
// ownership check passes.
func (c *Collector) DeleteBackupAndStorage(ctx context.Context, backupID, expectedUserID string) error {
	b, err := c.backups.GetByID(backupID)
	if err != nil {
		return fmt.Errorf("load backup: %w", err)
	}
	if b == nil {
		return apperr.Newf(apperr.KindNotFound, "backup %s not found", backupID)
	}
	if b.UserID != expectedUserID {
		return apperr.New(apperr.KindForbidden, "backup belongs to another account")
	}

	var paths []string
	seen := map[string]bool{}

	files, err := c.media.ListByBackup(backupID)
	if err != nil {
		return fmt.Errorf("list media files: %w", err)
	}
	for _, f := range files {
		if !seen[f.FilePath] {
			seen[f.FilePath] = true
			paths = append(paths, f.FilePath)
		}
	}

	archivePath, err := c.storage.ResolveArchivePath(ctx, b)
	if err != nil {
		c.logger.Warn("resolve archive path", "backup_id", backupID, "error", err)
	} else if archivePath != "" && !seen[archivePath] {
		paths = append(paths, archivePath)
	}

	if err := c.storage.DeleteAll(ctx, paths); err != nil {
		c.logger.Warn("delete backup objects", "backup_id", backupID, "error", err)
	}

	if err := c.media.DeleteByBackup(backupID); err != nil {
		return fmt.Errorf("delete media rows: %w", err)
	}
	if err := c.backups.Delete(backupID); err != nil {
		return fmt.Errorf("delete backup row: %w", err)
	}
	c.logger.Info("backup deleted", "backup_id", backupID, "objects", len(paths))
	return nil
}

// VisibleBackups returns the user's listing with two filters applied: ids
// referenced by in-flight job payloads are hidden (a half-written backup
// must not look final), and expired guest backups are deleted
// opportunistically and excluded.
func (c *Collector) VisibleBackups(ctx context.Context, userID string, now time.Time) ([]model.Backup, error) {
	all, err := c.backups.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	hidden, err := c.jobs.HiddenBackupIDs(userID)
	if err != nil {
		return nil, err
	}

	nowMs := now.UnixMilli()
	visible := make([]model.Backup, 0, len(all))
	for i := range all {
		b := &all[i]
		if hidden[b.ID] {
			continue
		}
		if IsExpired(b.Data, nowMs) {
			if err := c.DeleteBackupAndStorage(ctx, b.ID, userID); err != nil {
				c.logger.Warn("lazy expiry delete", "backup_id", b.ID, "error", err)
			}
			continue
		}
		visible = append(visible, *b)
	}
	return visible, nil
}

// Sweep deletes up to the configured limit of expired guest backups
// system-wide. Driven daily by the scheduler.
func (c *Collector) Sweep(ctx context.Context, now time.Time) error {
	expired, err := c.backups.ListGuestExpired(now.UnixMilli(), c.sweepLimit)
	if err != nil {
		return fmt.Errorf("list expired backups: %w", err)
	}

	for i := range expired {
		b := &expired[i]
		if err := c.DeleteBackupAndStorage(ctx, b.ID, b.UserID); err != nil {
			c.logger.Warn("sweep delete", "backup_id", b.ID, "error", err)
		}
	}
	if len(expired) > 0 {
		c.logger.Info("retention sweep finished", "deleted", len(expired))
	}
	return nil
}
