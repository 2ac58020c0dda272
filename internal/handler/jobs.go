package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/auth"
	"github.com/vaultis/vaultis/internal/store"
)

const jobListLimit = 20

// JobHandler exposes job status to the dashboard.
type JobHandler struct {
	jobs       *store.JobStore
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewJobHandler(jobs *store.JobStore, staleAfter time.Duration, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, staleAfter: staleAfter, logger: logger}
}

// Get handles GET /api/jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	jobID := r.PathValue("id")

	job, err := h.jobs.GetByID(jobID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if job == nil || job.UserID != userID {
		respondErr(w, h.logger, apperr.Newf(apperr.KindNotFound, "job %s not found", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// List handles GET /api/jobs
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	jobs, err := h.jobs.ListRecentByUser(userID, jobListLimit)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if jobs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Active handles GET /api/jobs/active. Reading the active slot also
// reconciles stale jobs, so a stuck dashboard clears itself on refresh.
func (h *JobHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	job, err := h.jobs.FindActiveForUser(userID, h.staleAfter, time.Now().UTC())
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": job})
}
