package queue

import (
	"context"

	"github.com/vaultis/vaultis/internal/budget"
)

// Event names on the wire. Handlers for both are idempotent, so the
// at-least-once retry policy of the dispatcher is safe.
const (
	EventArchiveUpload  = "archive-upload.requested"
	EventSnapshotScrape = "snapshot-scrape.requested"
)

// ArchiveUploadRequested asks the worker to turn a staged archive upload
// into a backup.
type ArchiveUploadRequested struct {
	JobID            string `json:"job_id"`
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	InputStoragePath string `json:"input_storage_path"`
}

// SnapshotScrapeRequested asks the worker to build a backup from a
// budget-bounded provider scrape. Budget is computed at dispatch time and
// must not be re-derived by the worker.
type SnapshotScrapeRequested struct {
	JobID               string      `json:"job_id"`
	UserID              string      `json:"user_id"`
	Username            string      `json:"username"`
	TweetsToScrape      int         `json:"tweets_to_scrape"`
	SocialGraphMaxItems int         `json:"social_graph_max_items,omitempty"`
	Budget              budget.Plan `json:"api_budget"`
}

// Consumer is the worker side of the queue.
type Consumer interface {
	ProcessArchiveUpload(ctx context.Context, ev ArchiveUploadRequested) error
	ProcessSnapshotScrape(ctx context.Context, ev SnapshotScrapeRequested) error
}
