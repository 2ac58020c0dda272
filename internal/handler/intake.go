package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/auth"
	"github.com/vaultis/vaultis/internal/model"
	"github.com/vaultis/vaultis/internal/queue"
	"github.com/vaultis/vaultis/internal/storage"
	"github.com/vaultis/vaultis/internal/store"
)

// IntakeHandler drives the archive upload wizard: presign, discard, and the
// completion call that creates the processing job.
type IntakeHandler struct {
	gateway    *storage.Gateway
	jobs       *store.JobStore
	backups    *store.BackupStore
	dispatcher *queue.Dispatcher
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewIntakeHandler(gateway *storage.Gateway, jobs *store.JobStore, backups *store.BackupStore, dispatcher *queue.Dispatcher, staleAfter time.Duration, logger *slog.Logger) *IntakeHandler {
	return &IntakeHandler{
		gateway:    gateway,
		jobs:       jobs,
		backups:    backups,
		dispatcher: dispatcher,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

type presignRequest struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

// Presign handles POST /api/uploads/presign
func (h *IntakeHandler) Presign(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	if err := h.ensureNoActiveJob(userID); err != nil {
		respondErr(w, h.logger, err)
		return
	}

	used, err := h.backups.TotalArchiveBytes(userID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	presigned, err := h.gateway.PresignUpload(r.Context(), userID, req.FileName, req.FileSize, req.FileType, used)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]any{"upload": presigned})
}

type discardRequest struct {
	StagedPath string `json:"staged_path"`
}

// Discard handles DELETE /api/uploads
func (h *IntakeHandler) Discard(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req discardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	if err := storage.EnsureUserScopedStagedPath(req.StagedPath, userID); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if err := h.gateway.Discard(r.Context(), req.StagedPath); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, nil)
}

type completeUploadRequest struct {
	StagedPath       string `json:"staged_path"`
	Username         string `json:"username"`
	GuestExpiresAtMs int64  `json:"guest_expires_at_ms,omitempty"`
}

// Complete handles POST /api/jobs/archive: the staged upload is done, so
// create the job record and hand the event to the dispatcher.
func (h *IntakeHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req completeUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.Username == "" {
		badRequest(w, "username is required")
		return
	}

	if err := storage.EnsureUserScopedStagedPath(req.StagedPath, userID); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if err := h.ensureNoActiveJob(userID); err != nil {
		respondErr(w, h.logger, err)
		return
	}

	payload := map[string]any{
		model.PayloadUsername:         req.Username,
		model.PayloadInputStoragePath: req.StagedPath,
	}
	if req.GuestExpiresAtMs > 0 {
		payload[model.PayloadGuestExpiresAtMs] = req.GuestExpiresAtMs
	}

	job, err := h.jobs.Create(userID, model.JobKindArchiveUpload, payload)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	if err := h.dispatcher.EnqueueArchiveUpload(queue.ArchiveUploadRequested{
		JobID:            job.ID,
		UserID:           userID,
		Username:         req.Username,
		InputStoragePath: req.StagedPath,
	}); err != nil {
		respondErr(w, h.logger, err)
		return
	}

	respondOK(w, http.StatusAccepted, map[string]any{"job": job})
}

func (h *IntakeHandler) ensureNoActiveJob(userID string) error {
	active, err := h.jobs.FindActiveForUser(userID, h.staleAfter, time.Now().UTC())
	if err != nil {
		return err
	}
	if active != nil {
		return apperr.New(apperr.KindConflict, "another backup job is already in progress")
	}
	return nil
}
