package job

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/email"
	"github.com/vaultis/vaultis/internal/model"
	"github.com/vaultis/vaultis/internal/share"
	"github.com/vaultis/vaultis/internal/store"
)

// Sender dispatches one transactional email.
type Sender interface {
	Send(ctx context.Context, msg email.Message) error
}

// ReminderConfig holds reminder delivery settings.
type ReminderConfig struct {
	AdminEmail string
	BaseURL    string
	CycleLimit int
}

// ReminderService registers and delivers backup-ready reminders. Each
// logical notification fires at most once: delivery is gated on marker
// fields in the job payload, so retried invocations observe the marker and
// skip the send.
type ReminderService struct {
	jobs   *store.JobStore
	sender Sender
	signer *share.Signer
	cfg    ReminderConfig
	logger *slog.Logger
}

func NewReminderService(jobs *store.JobStore, sender Sender, signer *share.Signer, cfg ReminderConfig, logger *slog.Logger) *ReminderService {
	if cfg.CycleLimit <= 0 {
		cfg.CycleLimit = 50
	}
	return &ReminderService{jobs: jobs, sender: sender, signer: signer, cfg: cfg, logger: logger}
}

// Register records a reminder request against a job and, when the job has
// already produced a backup, delivers it immediately. The admin
// notification is best-effort and never fails the registration; the
// reminder email itself, when attempted, surfaces dispatch failures to the
// caller.
func (r *ReminderService) Register(ctx context.Context, actorID, jobID, address string) (model.ReminderState, error) {
	job, err := r.jobs.GetByID(jobID)
	if err != nil {
		return model.ReminderNone, fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return model.ReminderNone, apperr.Newf(apperr.KindNotFound, "job %s not found", jobID)
	}
	if job.UserID != actorID {
		return model.ReminderNone, apperr.New(apperr.KindForbidden, "job belongs to another account")
	}
	if job.Status == model.JobStatusFailed {
		return model.ReminderNone, apperr.New(apperr.KindConflict, "job has failed; no reminder can be delivered")
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return model.ReminderNone, apperr.New(apperr.KindBadRequest, "invalid reminder email address")
	}
	if job.ReminderState() == model.ReminderSent {
		return model.ReminderSent, nil
	}

	job, err = r.jobs.MergePayload(job.ID, map[string]any{
		model.PayloadReminderEmail: address,
		model.PayloadReminderState: string(model.ReminderRequested),
	})
	if err != nil {
		return model.ReminderNone, fmt.Errorf("record reminder request: %w", err)
	}

	r.notifyAdmin(ctx, job)

	if job.Status == model.JobStatusCompleted && job.ResultBackupID != "" {
		return r.deliver(ctx, job)
	}
	return model.ReminderRequested, nil
}

// notifyAdmin sends the operator notification at most once per job. A
// failed send leaves the marker unset so the next invocation retries, but
// it never blocks reminder registration.
func (r *ReminderService) notifyAdmin(ctx context.Context, job *model.Job) {
	if r.cfg.AdminEmail == "" {
		return
	}
	if job.PayloadString(model.PayloadReminderAdminNotifiedAt) != "" {
		return
	}

	msg := email.AdminReminderRequested(
		r.cfg.AdminEmail,
		job.UserID,
		job.ID,
		job.PayloadString(model.PayloadReminderEmail),
	)
	if err := r.sender.Send(ctx, msg); err != nil {
		r.logger.Warn("admin reminder notification failed", "job_id", job.ID, "error", err)
		return
	}
	if _, err := r.jobs.MergePayload(job.ID, map[string]any{
		model.PayloadReminderAdminNotifiedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		r.logger.Error("record admin notification", "job_id", job.ID, "error", err)
	}
}

// deliver moves the reminder state machine from requested to sent or
// failed. Dispatch errors are persisted and re-raised so the HTTP boundary
// reports a 5xx.
func (r *ReminderService) deliver(ctx context.Context, job *model.Job) (model.ReminderState, error) {
	address := job.PayloadString(model.PayloadReminderEmail)
	username := job.PayloadString(model.PayloadUsername)

	token, err := r.signer.Grant(job.ResultBackupID, job.UserID, time.Now().UTC())
	if err != nil {
		return model.ReminderNone, fmt.Errorf("sign share grant: %w", err)
	}
	shareURL := r.cfg.BaseURL + "/share/" + token

	msg := email.ReminderReady(address, username, shareURL, int(r.signer.TTL().Hours()))
	if err := r.sender.Send(ctx, msg); err != nil {
		if _, mergeErr := r.jobs.MergePayload(job.ID, map[string]any{
			model.PayloadReminderState: string(model.ReminderFailed),
			model.PayloadReminderError: err.Error(),
		}); mergeErr != nil {
			r.logger.Error("record reminder failure", "job_id", job.ID, "error", mergeErr)
		}
		return model.ReminderFailed, apperr.Wrap(apperr.KindUpstream, "reminder email could not be sent", err)
	}

	if _, err := r.jobs.MergePayload(job.ID, map[string]any{
		model.PayloadReminderState:    string(model.ReminderSent),
		model.PayloadReminderShareURL: shareURL,
		model.PayloadReminderSentAt:   time.Now().UTC().Format(time.RFC3339),
		model.PayloadReminderError:    nil,
	}); err != nil {
		return model.ReminderSent, fmt.Errorf("record reminder delivery: %w", err)
	}
	return model.ReminderSent, nil
}

// RunCycle delivers reminders that were parked as requested before their
// job completed. Driven hourly by the scheduler.
func (r *ReminderService) RunCycle(ctx context.Context) error {
	pending, err := r.jobs.ListReminderPending(r.cfg.CycleLimit)
	if err != nil {
		return fmt.Errorf("list pending reminders: %w", err)
	}

	for i := range pending {
		job := &pending[i]
		if _, err := r.deliver(ctx, job); err != nil {
			r.logger.Warn("reminder cycle delivery failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}
