package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Publish(Event{Type: CollectionHidden, UserID: "u1", CollectionID: "c1"})

	select {
	case evt := <-sub:
		if evt.Type != CollectionHidden {
			t.Errorf("Type = %q, want %q", evt.Type, CollectionHidden)
		}
		if evt.CollectionID != "c1" {
			t.Errorf("CollectionID = %q, want %q", evt.CollectionID, "c1")
		}
		if evt.OccurredAt.IsZero() {
			t.Error("OccurredAt should be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(Event{Type: UserBlocked, UserID: "u1", TargetUserID: "u2"})

	for _, sub := range []<-chan Event{a, b} {
		select {
		case evt := <-sub:
			if evt.TargetUserID != "u2" {
				t.Errorf("TargetUserID = %q, want %q", evt.TargetUserID, "u2")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(Event{Type: PostCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on saturated subscriber")
	}
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	// Publishing after close is a no-op, not a panic.
	bus.Publish(Event{Type: PostCreated})
}
