package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeConsumer struct {
	mu         sync.Mutex
	uploads    []ArchiveUploadRequested
	scrapes    []SnapshotScrapeRequested
	failFirst  bool
	alwaysFail error
	attempts   int
}

func (f *fakeConsumer) ProcessArchiveUpload(_ context.Context, ev ArchiveUploadRequested) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.alwaysFail != nil {
		return f.alwaysFail
	}
	if f.failFirst {
		f.failFirst = false
		return errors.New("transient failure")
	}
	f.uploads = append(f.uploads, ev)
	return nil
}

func (f *fakeConsumer) ProcessSnapshotScrape(_ context.Context, ev SnapshotScrapeRequested) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrapes = append(f.scrapes, ev)
	return nil
}

func (f *fakeConsumer) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeConsumer) scrapeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scrapes)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestDispatcherDeliversEvents(t *testing.T) {
	consumer := &fakeConsumer{}
	d := NewDispatcher(consumer, 8, nil, slog.Default())
	d.Start(context.Background())
	defer d.Stop()

	if err := d.EnqueueArchiveUpload(ArchiveUploadRequested{JobID: "j1", UserID: "u1"}); err != nil {
		t.Fatalf("enqueue upload: %v", err)
	}
	if err := d.EnqueueSnapshotScrape(SnapshotScrapeRequested{JobID: "j2", UserID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("enqueue scrape: %v", err)
	}

	waitFor(t, func() bool { return consumer.uploadCount() == 1 && consumer.scrapeCount() == 1 })

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if consumer.uploads[0].JobID != "j1" {
		t.Errorf("upload job id = %q, want j1", consumer.uploads[0].JobID)
	}
	if consumer.scrapes[0].Username != "alice" {
		t.Errorf("scrape username = %q, want alice", consumer.scrapes[0].Username)
	}
}

func TestDispatcherRetriesFailedHandler(t *testing.T) {
	consumer := &fakeConsumer{failFirst: true}
	d := NewDispatcher(consumer, 8, nil, slog.Default())
	d.retryBase = time.Millisecond
	d.Start(context.Background())
	defer d.Stop()

	if err := d.EnqueueArchiveUpload(ArchiveUploadRequested{JobID: "j1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The first attempt fails; a retry after backoff delivers it.
	waitFor(t, func() bool { return consumer.uploadCount() == 1 })
}

func TestDispatcherExhaustionFailsJob(t *testing.T) {
	consumer := &fakeConsumer{alwaysFail: errors.New("provider unreachable")}

	var mu sync.Mutex
	var failedJobID string
	var failedErr error
	onExhausted := func(_ context.Context, jobID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failedJobID = jobID
		failedErr = err
	}

	d := NewDispatcher(consumer, 8, onExhausted, slog.Default())
	d.retryBase = time.Millisecond
	d.Start(context.Background())
	defer d.Stop()

	if err := d.EnqueueArchiveUpload(ArchiveUploadRequested{JobID: "j1", UserID: "u1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failedJobID != ""
	})

	mu.Lock()
	defer mu.Unlock()
	if failedJobID != "j1" {
		t.Errorf("failed job id = %q, want j1", failedJobID)
	}
	if failedErr == nil || !strings.Contains(failedErr.Error(), "provider unreachable") {
		t.Errorf("final error = %v, want the handler's cause", failedErr)
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if consumer.attempts != processingAttempts {
		t.Errorf("attempts = %d, want %d", consumer.attempts, processingAttempts)
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	// A stopped dispatcher never drains, so a buffer of 1 fills immediately.
	d := NewDispatcher(&fakeConsumer{}, 1, nil, slog.Default())

	if err := d.EnqueueArchiveUpload(ArchiveUploadRequested{JobID: "j1"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := d.EnqueueArchiveUpload(ArchiveUploadRequested{JobID: "j2"}); err == nil {
		t.Fatal("expected an error when the queue is full")
	}
}

func TestCronRunsPeriodically(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	c := NewCron("test-cycle", 20*time.Millisecond, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		return nil
	}, slog.Default())

	c.Start(context.Background())
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	})
	c.Stop()
}
