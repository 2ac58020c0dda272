package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/auth"
	"github.com/vaultis/vaultis/internal/budget"
	"github.com/vaultis/vaultis/internal/model"
	"github.com/vaultis/vaultis/internal/queue"
	"github.com/vaultis/vaultis/internal/store"
)

// ScrapeHandler accepts snapshot scrape requests. The budget plan is
// computed here, once, and travels with the event.
type ScrapeHandler struct {
	jobs       *store.JobStore
	dispatcher *queue.Dispatcher
	budgetCfg  budget.Config
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewScrapeHandler(jobs *store.JobStore, dispatcher *queue.Dispatcher, budgetCfg budget.Config, staleAfter time.Duration, logger *slog.Logger) *ScrapeHandler {
	return &ScrapeHandler{
		jobs:       jobs,
		dispatcher: dispatcher,
		budgetCfg:  budgetCfg,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

type scrapeRequest struct {
	Username            string `json:"username"`
	TweetsToScrape      int    `json:"tweets_to_scrape"`
	SocialGraphMaxItems int    `json:"social_graph_max_items"`
	GuestExpiresAtMs    int64  `json:"guest_expires_at_ms,omitempty"`
}

// Create handles POST /api/jobs/scrape
func (h *ScrapeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.Username == "" {
		badRequest(w, "username is required")
		return
	}
	if req.TweetsToScrape <= 0 {
		badRequest(w, "tweets_to_scrape must be positive")
		return
	}

	active, err := h.jobs.FindActiveForUser(userID, h.staleAfter, time.Now().UTC())
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if active != nil {
		respondErr(w, h.logger, apperr.New(apperr.KindConflict, "another backup job is already in progress"))
		return
	}

	spent, err := h.jobs.MonthlySpentUSD(time.Now().UTC())
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	plan := budget.Allocate(h.budgetCfg, budget.Request{
		TimelineItems:            req.TweetsToScrape,
		SocialGraphItems:         req.SocialGraphMaxItems,
		MonthlySpentBeforeRunUSD: spent,
	})

	payload := map[string]any{
		model.PayloadUsername: req.Username,
	}
	if req.GuestExpiresAtMs > 0 {
		payload[model.PayloadGuestExpiresAtMs] = req.GuestExpiresAtMs
	}

	job, err := h.jobs.Create(userID, model.JobKindSnapshotScrape, payload)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	if err := h.dispatcher.EnqueueSnapshotScrape(queue.SnapshotScrapeRequested{
		JobID:               job.ID,
		UserID:              userID,
		Username:            req.Username,
		TweetsToScrape:      plan.TimelineItems,
		SocialGraphMaxItems: plan.SocialGraphItems,
		Budget:              plan,
	}); err != nil {
		respondErr(w, h.logger, err)
		return
	}

	respondOK(w, http.StatusAccepted, map[string]any{
		"job":    job,
		"budget": plan,
	})
}
