// Package notify delivers best-effort backup lifecycle notifications.
// Delivery failures are logged and swallowed: a notification must never
// convert a successful job into a failed one.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaultis/vaultis/internal/model"
	"github.com/vaultis/vaultis/internal/store"
)

type pushSender interface {
	Send(sub *model.PushSubscription, payload PushPayload) error
}

// Notifier fans out job lifecycle events to the owner's push subscriptions,
// at most once per event via a notified-at marker in the job payload.
type Notifier struct {
	jobs   *store.JobStore
	subs   *store.PushStore
	push   pushSender
	logger *slog.Logger
}

func NewNotifier(jobs *store.JobStore, subs *store.PushStore, push pushSender, logger *slog.Logger) *Notifier {
	return &Notifier{jobs: jobs, subs: subs, push: push, logger: logger}
}

// BackupCompleted notifies the job's owner that their backup is ready.
// Re-running the completion stage after a partial failure observes the
// marker and skips the send.
func (n *Notifier) BackupCompleted(job *model.Job, backupID, username string) {
	if n.push == nil {
		return
	}
	if job.PayloadString(model.PayloadCompletionNotifiedAt) != "" {
		return
	}

	subs, err := n.subs.ListByUser(job.UserID)
	if err != nil {
		n.logger.Error("list push subscriptions", "user_id", job.UserID, "error", err)
		return
	}

	payload := PushPayload{
		Title: "Backup complete",
		Body:  fmt.Sprintf("Your backup of @%s is ready to download", username),
		URL:   "/backups/" + backupID,
		Tag:   "backup-" + backupID,
	}

	for i := range subs {
		if err := n.push.Send(&subs[i], payload); err != nil {
			if errors.Is(err, ErrExpired) {
				n.subs.DeleteByEndpoint(subs[i].Endpoint)
			} else {
				n.logger.Warn("send completion push", "user_id", job.UserID, "error", err)
			}
		}
	}

	if _, err := n.jobs.MergePayload(job.ID, map[string]any{
		model.PayloadCompletionNotifiedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		n.logger.Error("record completion notification", "job_id", job.ID, "error", err)
	}
}
