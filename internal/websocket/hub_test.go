package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   nil,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "user-1")
	c2 := mockClient(hub, "user-2")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "user-1")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastToUserIsScoped(t *testing.T) {
	hub := NewHub(slog.Default())

	owner := mockClient(hub, "user-1")
	ownerSecondTab := mockClient(hub, "user-1")
	other := mockClient(hub, "user-2")
	hub.Register(owner)
	hub.Register(ownerSecondTab)
	hub.Register(other)

	hub.BroadcastToUser("user-1", NewJobStatus("job-1", "processing", "scraping"))

	// Both of the owner's connections receive the message.
	for _, c := range []*Client{owner, ownerSecondTab} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "job_status" {
				t.Errorf("expected type job_status, got %s", got.Type)
			}
			if got.JobID != "job-1" {
				t.Errorf("expected job-1, got %s", got.JobID)
			}
			if got.Status != "processing" {
				t.Errorf("expected processing, got %s", got.Status)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	// The other user's connection must not.
	select {
	case <-other.send:
		t.Fatal("message leaked to another user's client")
	default:
	}

	hub.Unregister(owner)
	hub.Unregister(ownerSecondTab)
	hub.Unregister(other)
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	hub.BroadcastToUser("user-1", NewJobStatus("job-1", "completed", "done"))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub, "user-1")
	hub.Register(c)

	// Fill the send buffer
	for i := 0; i < sendBufferSize; i++ {
		hub.BroadcastToUser("user-1", NewJobStatus("job-1", "processing", "fill"))
	}

	// This should drop the message, not panic or block
	hub.BroadcastToUser("user-1", NewJobStatus("job-1", "processing", "dropped"))

	// Drain to verify buffer was full
	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	// Spawn goroutines that register, broadcast, and unregister concurrently
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "user-1")
			hub.Register(c)
			hub.BroadcastToUser("user-1", NewJobStatus("job-1", "processing", "concurrent"))
			// Drain any messages
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
