package room

import (
	"context"
	"testing"
	"time"
)

func TestHubPublishWithNoSubscribersIsNoop(t *testing.T) {
	h := NewBroadcastHub(4)
	if delivered := h.Publish("hi"); delivered {
		t.Fatalf("Publish with no subscribers reported delivery")
	}
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	h := NewBroadcastHub(4)
	c := h.Subscribe()
	h.Publish("one")
	h.Publish("two")

	ctx := context.Background()
	ev := c.Next(ctx)
	if ev.Kind != EventMessage || ev.Message != "one" {
		t.Fatalf("first event = %+v, want message \"one\"", ev)
	}
	ev = c.Next(ctx)
	if ev.Kind != EventMessage || ev.Message != "two" {
		t.Fatalf("second event = %+v, want message \"two\"", ev)
	}
}

func TestHubSubscribeOnlySeesMessagesAfterSubscribe(t *testing.T) {
	h := NewBroadcastHub(4)
	h.Publish("before")
	c := h.Subscribe()
	h.Publish("after")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ev := c.Next(ctx)
	if ev.Kind != EventMessage || ev.Message != "after" {
		t.Fatalf("event = %+v, want message \"after\"", ev)
	}
}

func TestHubSlowSubscriberDropsOldestAndReportsLag(t *testing.T) {
	h := NewBroadcastHub(2)
	c := h.Subscribe()
	for i := 0; i < 5; i++ {
		h.Publish(string(rune('a' + i)))
	}

	ctx := context.Background()
	ev := c.Next(ctx)
	if ev.Kind != EventLagged {
		t.Fatalf("first event = %+v, want Lagged", ev)
	}
	if ev.Lagged != 3 {
		t.Fatalf("lagged count = %d, want 3", ev.Lagged)
	}
	// The two still-buffered messages should be the newest two published.
	ev = c.Next(ctx)
	if ev.Kind != EventMessage || ev.Message != "d" {
		t.Fatalf("event = %+v, want message \"d\"", ev)
	}
	ev = c.Next(ctx)
	if ev.Kind != EventMessage || ev.Message != "e" {
		t.Fatalf("event = %+v, want message \"e\"", ev)
	}
}

func TestHubUnsubscribeYieldsClosed(t *testing.T) {
	h := NewBroadcastHub(4)
	c := h.Subscribe()
	h.Unsubscribe(c)

	ev := c.Next(context.Background())
	if ev.Kind != EventClosed {
		t.Fatalf("event = %+v, want Closed", ev)
	}
	if h.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", h.SubscriberCount())
	}
}

func TestHubContextCancellationYieldsClosed(t *testing.T) {
	h := NewBroadcastHub(4)
	c := h.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := c.Next(ctx)
	if ev.Kind != EventClosed {
		t.Fatalf("event = %+v, want Closed", ev)
	}
}
