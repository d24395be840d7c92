package bus

import (
	"io"
	"log"
	"testing"
)

func newTestBus() *Bus {
	return New(log.New(io.Discard, "", 0))
}

// TestPublish_SubscriptionOrder verifies handlers for one event fire in
// subscription order.
func TestPublish_SubscriptionOrder(t *testing.T) {
	b := newTestBus()

	var got []int
	b.Subscribe("meal.added", func(event string, payload any) {
		got = append(got, 1)
	})
	b.Subscribe("meal.added", func(event string, payload any) {
		got = append(got, 2)
	})
	b.Subscribe("meal.added", func(event string, payload any) {
		got = append(got, 3)
	})

	b.Publish("meal.added", nil)

	if len(got) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Errorf("invocation %d was handler %d, want %d", i, v, i+1)
		}
	}
}

// TestPublish_PanicIsolation verifies a panicking handler does not prevent
// later handlers from running.
func TestPublish_PanicIsolation(t *testing.T) {
	b := newTestBus()

	var secondRan bool
	b.Subscribe("sync.failed", func(event string, payload any) {
		panic("boom")
	})
	b.Subscribe("sync.failed", func(event string, payload any) {
		secondRan = true
	})

	b.Publish("sync.failed", nil)

	if !secondRan {
		t.Error("second handler did not run after first panicked")
	}
}

func TestWildcard_ReceivesAllEvents(t *testing.T) {
	b := newTestBus()

	type seen struct {
		event   string
		payload any
	}
	var events []seen
	b.Subscribe(Wildcard, func(event string, payload any) {
		events = append(events, seen{event, payload})
	})

	b.Publish("meal.added", "M1")
	b.Publish("rotation.changed", []string{"M1"})

	if len(events) != 2 {
		t.Fatalf("expected 2 wildcard deliveries, got %d", len(events))
	}
	if events[0].event != "meal.added" || events[0].payload != "M1" {
		t.Errorf("first delivery = %+v", events[0])
	}
	if events[1].event != "rotation.changed" {
		t.Errorf("second delivery event = %q", events[1].event)
	}
}

func TestSubscribeOnce_FiresExactlyOnce(t *testing.T) {
	b := newTestBus()

	var count int
	b.SubscribeOnce("sync.completed", func(event string, payload any) {
		count++
	})

	b.Publish("sync.completed", nil)
	b.Publish("sync.completed", nil)

	if count != 1 {
		t.Errorf("once handler ran %d times, want 1", count)
	}
	if n := b.SubscriberCount("sync.completed"); n != 0 {
		t.Errorf("subscriber count after once = %d, want 0", n)
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := newTestBus()

	var count int
	unsub := b.Subscribe("meal.updated", func(event string, payload any) {
		count++
	})

	b.Publish("meal.updated", nil)
	unsub()
	b.Publish("meal.updated", nil)

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}

// TestUnsubscribe_DuringPublish verifies that removing a subscription while a
// publish is in flight affects the next publish, not the current one.
func TestUnsubscribe_DuringPublish(t *testing.T) {
	b := newTestBus()

	var unsub func()
	var secondCount int
	b.Subscribe("tick", func(event string, payload any) {
		unsub()
	})
	unsub = b.Subscribe("tick", func(event string, payload any) {
		secondCount++
	})

	b.Publish("tick", nil)
	b.Publish("tick", nil)

	if secondCount != 1 {
		t.Errorf("second handler ran %d times, want 1 (current publish only)", secondCount)
	}
}
