package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// processingAttempts is the retry ceiling for upload/scrape processing.
const processingAttempts = 5

type task struct {
	name  string
	jobID string
	run   func(ctx context.Context) error
}

// FailureHandler is invoked once delivery retries for a job's event are
// exhausted, with the final error. It must leave the job in a terminal
// state so the failure stays visible.
type FailureHandler func(ctx context.Context, jobID string, err error)

// Dispatcher is the in-process job queue: handlers consume events
// asynchronously with at-least-once retry semantics up to a fixed attempt
// ceiling. Consumers are idempotent, so retried delivery is safe.
type Dispatcher struct {
	mu          sync.RWMutex
	consumer    Consumer
	onExhausted FailureHandler
	tasks       chan task
	retryBase   time.Duration
	logger      *slog.Logger
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewDispatcher(consumer Consumer, buffer int, onExhausted FailureHandler, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if onExhausted == nil {
		onExhausted = func(context.Context, string, error) {}
	}
	return &Dispatcher{
		consumer:    consumer,
		onExhausted: onExhausted,
		tasks:       make(chan task, buffer),
		retryBase:   time.Second,
		logger:      logger,
	}
}

// EnqueueArchiveUpload queues an archive-upload.requested event.
func (d *Dispatcher) EnqueueArchiveUpload(ev ArchiveUploadRequested) error {
	return d.enqueue(task{
		name:  EventArchiveUpload,
		jobID: ev.JobID,
		run: func(ctx context.Context) error {
			return d.consumer.ProcessArchiveUpload(ctx, ev)
		},
	})
}

// EnqueueSnapshotScrape queues a snapshot-scrape.requested event.
func (d *Dispatcher) EnqueueSnapshotScrape(ev SnapshotScrapeRequested) error {
	return d.enqueue(task{
		name:  EventSnapshotScrape,
		jobID: ev.JobID,
		run: func(ctx context.Context) error {
			return d.consumer.ProcessSnapshotScrape(ctx, ev)
		},
	})
}

func (d *Dispatcher) enqueue(t task) error {
	select {
	case d.tasks <- t:
		return nil
	default:
		return fmt.Errorf("enqueue %s: queue full", t.name)
	}
}

// Start begins the worker loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-d.tasks:
				d.handle(ctx, t)
			}
		}
	}()
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.mu.RLock()
	cancel := d.cancel
	done := d.done
	d.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (d *Dispatcher) handle(ctx context.Context, t task) {
	backoff := retry.WithMaxRetries(processingAttempts-1, retry.NewExponential(d.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := t.run(ctx); err != nil {
			d.logger.Warn("event handler failed, will retry", "event", t.name, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.logger.Error("event handler exhausted retries", "event", t.name, "job_id", t.jobID, "error", err)
		d.onExhausted(ctx, t.jobID, err)
	}
}
