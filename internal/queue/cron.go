package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// cronAttempts is the lower-stakes retry ceiling for cleanup and reminder
// cycles.
const cronAttempts = 3

// Cron runs a periodic job: the daily guest-retention cleanup and the
// hourly archive-reminder dispatch both hang off one of these.
type Cron struct {
	mu       sync.RWMutex
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewCron(name string, interval time.Duration, fn func(ctx context.Context) error, logger *slog.Logger) *Cron {
	return &Cron{name: name, interval: interval, fn: fn, logger: logger}
}

// Start begins the ticker loop.
func (c *Cron) Start(ctx context.Context) {
	c.mu.Lock()
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the loop.
func (c *Cron) Stop() {
	c.mu.RLock()
	cancel := c.cancel
	done := c.done
	c.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Cron) tick(ctx context.Context) {
	backoff := retry.WithMaxRetries(cronAttempts-1, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("cron run failed", "cron", c.name, "error", err)
	}
}
