package events

import (
	"testing"
	"time"
)

func TestHub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", h.Subscribers())
	}

	h.Publish(TypeMemoryStored, map[string]any{"memoryId": "mem_1"})

	select {
	case evt := <-ch:
		if evt.Type != TypeMemoryStored {
			t.Fatalf("Type = %q, want %q", evt.Type, TypeMemoryStored)
		}
		if evt.Data["memoryId"] != "mem_1" {
			t.Fatalf("Data = %v", evt.Data)
		}
		if evt.Time.IsZero() {
			t.Fatal("event time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("Subscribers = %d, want 0", h.Subscribers())
	}

	// Publishing with no subscribers must not panic or block.
	h.Publish(TypeScreenCaptured, nil)

	// A second cancel is a no-op.
	cancel()
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	h := NewHub()
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			h.Publish(TypeRetentionPurged, nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if h.Dropped() == 0 {
		t.Fatal("expected dropped events for a full buffer")
	}
}
