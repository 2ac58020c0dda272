package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vaultis/vaultis/internal/budget"
	"github.com/vaultis/vaultis/internal/database"
	"github.com/vaultis/vaultis/internal/email"
	"github.com/vaultis/vaultis/internal/logging"
	"github.com/vaultis/vaultis/internal/notify"
	"github.com/vaultis/vaultis/internal/scrape"
	"github.com/vaultis/vaultis/internal/server"
	"github.com/vaultis/vaultis/internal/storage"
)

func main() {
	logger := logging.Setup(os.Getenv("VAULTIS_LOG_LEVEL"), os.Getenv("VAULTIS_LOG_FORMAT"))

	port := envOr("VAULTIS_PORT", "8080")
	dbPath := envOr("VAULTIS_DB_PATH", "vaultis.db")
	baseURL := envOr("VAULTIS_BASE_URL", "http://localhost:"+port)

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	s3Client := storage.NewS3Client(storage.S3Config{
		Endpoint:  os.Getenv("VAULTIS_S3_ENDPOINT"),
		Bucket:    os.Getenv("VAULTIS_S3_BUCKET"),
		Region:    envOr("VAULTIS_S3_REGION", "auto"),
		AccessKey: os.Getenv("VAULTIS_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("VAULTIS_S3_SECRET_KEY"),
	})
	presignClient := s3.NewPresignClient(s3Client)

	emailClient := email.NewClient(
		os.Getenv("VAULTIS_POSTMARK_TOKEN"),
		envOr("VAULTIS_EMAIL_FROM", "noreply@vaultis.app"),
	)

	cfg := server.Config{
		BaseURL:       baseURL,
		Bucket:        os.Getenv("VAULTIS_S3_BUCKET"),
		ShareSecret:   os.Getenv("VAULTIS_SHARE_SECRET"),
		AdminEmail:    os.Getenv("VAULTIS_ADMIN_EMAIL"),
		JobStaleAfter: envDuration("VAULTIS_JOB_STALE_AFTER", 30*time.Minute),
		Budget: budget.Config{
			MonthlyLimitUSD:        envFloat("VAULTIS_BUDGET_MONTHLY_USD", 100),
			PerRunLimitUSD:         envFloat("VAULTIS_BUDGET_PER_RUN_USD", 20),
			TimelineItemCostUSD:    envFloat("VAULTIS_COST_TIMELINE_ITEM_USD", 0.001),
			SocialGraphItemCostUSD: envFloat("VAULTIS_COST_SOCIAL_GRAPH_ITEM_USD", 0.001),
		},
		Scrape: scrape.Config{
			BaseURL: os.Getenv("VAULTIS_PROVIDER_URL"),
			APIKey:  os.Getenv("VAULTIS_PROVIDER_API_KEY"),
		},
		Push: notify.PushConfig{
			VAPIDPublicKey:  os.Getenv("VAULTIS_VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("VAULTIS_VAPID_PRIVATE_KEY"),
		},
	}

	srv := server.New(db, cfg, s3Client, presignClient, emailClient, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)
	defer srv.Stop()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Vaultis running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
