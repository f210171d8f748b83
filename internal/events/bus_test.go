package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe("sub-1")
	t.Cleanup(func() { bus.Unsubscribe("sub-1") })

	bus.Publish(Event{Type: StatusChanged, MonitorID: 7, Summary: "api degraded"})

	select {
	case evt := <-ch:
		if evt.Type != StatusChanged {
			t.Fatalf("expected %s, got %s", StatusChanged, evt.Type)
		}
		if evt.MonitorID != 7 {
			t.Fatalf("expected monitor 7, got %d", evt.MonitorID)
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("expected publish to stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus(1)
	ch := bus.Subscribe("slow")
	t.Cleanup(func() { bus.Unsubscribe("slow") })

	// Fill the buffer, then publish again: must not block.
	bus.Publish(Event{Type: CheckCompleted, Summary: "first"})
	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: CheckCompleted, Summary: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	evt := <-ch
	if evt.Summary != "first" {
		t.Fatalf("expected buffered first event, got %q", evt.Summary)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(1)
	ch := bus.Subscribe("gone")
	bus.Unsubscribe("gone")

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}
