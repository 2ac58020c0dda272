package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vaultis/vaultis/internal/auth"
	"github.com/vaultis/vaultis/internal/job"
)

// ReminderHandler registers backup-ready reminder emails against a job.
type ReminderHandler struct {
	service *job.ReminderService
	logger  *slog.Logger
}

func NewReminderHandler(service *job.ReminderService, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{service: service, logger: logger}
}

type reminderRequest struct {
	Email string `json:"email"`
}

// Register handles POST /api/jobs/{id}/reminder
func (h *ReminderHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	jobID := r.PathValue("id")

	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	state, err := h.service.Register(r.Context(), userID, jobID, req.Email)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]any{"reminder_state": string(state)})
}
