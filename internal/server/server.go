// Package server wires the stores, services, and background workers into
// one HTTP surface.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vaultis/vaultis/internal/archive"
	"github.com/vaultis/vaultis/internal/budget"
	"github.com/vaultis/vaultis/internal/email"
	"github.com/vaultis/vaultis/internal/handler"
	"github.com/vaultis/vaultis/internal/job"
	"github.com/vaultis/vaultis/internal/media"
	"github.com/vaultis/vaultis/internal/middleware"
	"github.com/vaultis/vaultis/internal/model"
	"github.com/vaultis/vaultis/internal/notify"
	"github.com/vaultis/vaultis/internal/queue"
	"github.com/vaultis/vaultis/internal/retention"
	"github.com/vaultis/vaultis/internal/scrape"
	"github.com/vaultis/vaultis/internal/share"
	"github.com/vaultis/vaultis/internal/storage"
	"github.com/vaultis/vaultis/internal/store"
	ws "github.com/vaultis/vaultis/internal/websocket"
)

// Config collects everything main reads from the environment.
type Config struct {
	BaseURL        string
	Bucket         string
	ShareSecret    string
	AdminEmail     string
	JobStaleAfter  time.Duration
	ReminderCycle  time.Duration
	RetentionSweep time.Duration
	Gateway        storage.GatewayConfig
	Budget         budget.Config
	Scrape         scrape.Config
	Push           notify.PushConfig
}

func (c *Config) applyDefaults() {
	if c.JobStaleAfter == 0 {
		c.JobStaleAfter = 30 * time.Minute
	}
	if c.ReminderCycle == 0 {
		c.ReminderCycle = time.Hour
	}
	if c.RetentionSweep == 0 {
		c.RetentionSweep = 24 * time.Hour
	}
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	userStore   *store.UserStore
	intakeH     *handler.IntakeHandler
	scrapeH     *handler.ScrapeHandler
	jobH        *handler.JobHandler
	backupH     *handler.BackupHandler
	reminderH   *handler.ReminderHandler
	pushH       *handler.PushHandler
	dispatcher  *queue.Dispatcher
	crons       []*queue.Cron
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, s3Client *s3.Client, presignClient *s3.PresignClient, emailClient *email.Client, logger *slog.Logger) *Server {
	cfg.applyDefaults()

	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	jobStore := store.NewJobStore(db)
	backupStore := store.NewBackupStore(db)
	mediaStore := store.NewMediaFileStore(db)
	pushStore := store.NewPushStore(db)

	gateway := storage.NewGateway(cfg.Gateway, cfg.Bucket, s3Client, presignClient, logger.With("component", "storage"))
	signer := share.NewSigner(cfg.ShareSecret, 0)

	pushSvc := notify.NewPushService(cfg.Push)
	notifier := notify.NewNotifier(jobStore, pushStore, pushSvc, logger.With("component", "notify"))

	collector := retention.NewCollector(backupStore, mediaStore, jobStore, gateway, 0, logger.With("component", "retention"))
	inspector := archive.NewInspector(gateway)

	scrapeClient := scrape.NewClient(cfg.Scrape)
	newRunner := func(plan budget.Plan) job.SnapshotRunner {
		return scrape.NewCollector(scrapeClient, plan, logger.With("component", "scrape"))
	}

	matcher := media.DefaultChain(map[string]model.MediaType{
		"profile.jpg": model.MediaTypeProfile,
		"profile.png": model.MediaTypeProfile,
		"banner.jpg":  model.MediaTypeCover,
		"banner.png":  model.MediaTypeCover,
	})

	processor := job.NewProcessor(
		jobStore, backupStore, mediaStore, gateway, inspector, newRunner, notifier, matcher,
		func(ev job.StatusEvent) {
			hub.BroadcastToUser(ev.UserID, ws.NewJobStatus(ev.JobID, string(ev.Status), ev.Stage))
		},
		logger.With("component", "processor"),
	)
	dispatcher := queue.NewDispatcher(processor, 0, processor.AbandonJob, logger.With("component", "queue"))

	reminderSvc := job.NewReminderService(jobStore, emailClient, signer, job.ReminderConfig{
		AdminEmail: cfg.AdminEmail,
		BaseURL:    cfg.BaseURL,
	}, logger.With("component", "reminder"))

	crons := []*queue.Cron{
		queue.NewCron("reminder-cycle", cfg.ReminderCycle, reminderSvc.RunCycle, logger.With("component", "cron")),
		queue.NewCron("retention-sweep", cfg.RetentionSweep, func(ctx context.Context) error {
			return collector.Sweep(ctx, time.Now().UTC())
		}, logger.With("component", "cron")),
	}

	return &Server{
		db:          db,
		hub:         hub,
		userStore:   userStore,
		intakeH:     handler.NewIntakeHandler(gateway, jobStore, backupStore, dispatcher, cfg.JobStaleAfter, logger.With("component", "intake")),
		scrapeH:     handler.NewScrapeHandler(jobStore, dispatcher, cfg.Budget, cfg.JobStaleAfter, logger.With("component", "scrape_api")),
		jobH:        handler.NewJobHandler(jobStore, cfg.JobStaleAfter, logger.With("component", "jobs")),
		backupH:     handler.NewBackupHandler(backupStore, mediaStore, collector, gateway, signer, cfg.BaseURL, logger.With("component", "backups")),
		reminderH:   handler.NewReminderHandler(reminderSvc, logger.With("component", "reminder_api")),
		pushH:       handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push")),
		dispatcher:  dispatcher,
		crons:       crons,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Start launches the dispatcher and the scheduled cycles.
func (s *Server) Start(ctx context.Context) {
	s.dispatcher.Start(ctx)
	for _, c := range s.crons {
		c.Start(ctx)
	}
}

// Stop shuts down the background workers and waits for them.
func (s *Server) Stop() {
	for _, c := range s.crons {
		c.Stop()
	}
	s.dispatcher.Stop()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /share/{token}", s.rateLimitedHandler(s.backupH.ShareRead))

	// Protected routes — wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 30, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Upload wizard
	mux.HandleFunc("POST /api/uploads/presign", s.intakeH.Presign)
	mux.HandleFunc("DELETE /api/uploads", s.intakeH.Discard)

	// Jobs
	mux.HandleFunc("POST /api/jobs/archive", s.intakeH.Complete)
	mux.HandleFunc("POST /api/jobs/scrape", s.scrapeH.Create)
	mux.HandleFunc("GET /api/jobs", s.jobH.List)
	mux.HandleFunc("GET /api/jobs/active", s.jobH.Active)
	mux.HandleFunc("GET /api/jobs/{id}", s.jobH.Get)
	mux.HandleFunc("POST /api/jobs/{id}/reminder", s.reminderH.Register)

	// Backups
	mux.HandleFunc("GET /api/backups", s.backupH.List)
	mux.HandleFunc("GET /api/backups/{id}", s.backupH.Get)
	mux.HandleFunc("GET /api/backups/{id}/download", s.backupH.Download)
	mux.HandleFunc("DELETE /api/backups/{id}", s.backupH.Delete)
	mux.HandleFunc("POST /api/backups/{id}/share", s.backupH.Share)

	// Push notifications
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
}
