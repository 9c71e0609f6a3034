package room

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestRoomIncrementDecrementRoundTrip(t *testing.T) {
	reg := NewRegistry(10, time.Hour, testLogger())
	r := reg.GetOrCreate("r1")

	r.IncrementConnections()
	if r.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1", r.ConnectionCount())
	}
	r.DecrementAndCheck()
	if r.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount() = %d, want 0", r.ConnectionCount())
	}
}

func TestRoomDecrementToZeroArmsEvictionAndRemoves(t *testing.T) {
	reg := NewRegistry(10, 20*time.Millisecond, testLogger())
	r := reg.GetOrCreate("r1")
	r.IncrementConnections()
	r.DecrementAndCheck()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get("r1"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("room was not evicted after the grace period")
}

func TestRoomReactivationCancelsEviction(t *testing.T) {
	reg := NewRegistry(10, 50*time.Millisecond, testLogger())
	r := reg.GetOrCreate("r1")
	r.IncrementConnections()
	r.DecrementAndCheck()

	// Reconnect within the grace window.
	time.Sleep(10 * time.Millisecond)
	r2 := reg.GetOrCreate("r1")
	if r2 != r {
		t.Fatal("reactivation allocated a new Room instead of reusing the existing one")
	}
	r2.IncrementConnections()

	// Outlive the original grace period; the room must still exist.
	time.Sleep(80 * time.Millisecond)
	if _, ok := reg.Get("r1"); !ok {
		t.Fatal("room was evicted despite reactivation")
	}
	if r.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1", r.ConnectionCount())
	}
}

func TestRoomDoubleDecrementIsIgnoredNotNegative(t *testing.T) {
	reg := NewRegistry(10, time.Hour, testLogger())
	r := reg.GetOrCreate("r1")
	r.IncrementConnections()
	r.DecrementAndCheck()
	// Second decrement: already PendingRemoval with connections == 0.
	r.DecrementAndCheck()
	if r.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount() = %d, want 0", r.ConnectionCount())
	}
}

func TestRoomPublishOrdersAppendBeforeHubDelivery(t *testing.T) {
	reg := NewRegistry(10, time.Hour, testLogger())
	r := reg.GetOrCreate("r1")
	c := r.Hub.Subscribe()
	r.Publish("hi")

	ev := c.Next(context.Background())
	if ev.Kind != EventMessage || ev.Message != "hi" {
		t.Fatalf("hub event = %+v, want message \"hi\"", ev)
	}
	// The subscriber has seen the message, so the history must hold it.
	snap := r.History.Snapshot()
	if len(snap) != 1 || snap[0] != "hi" {
		t.Fatalf("history snapshot = %v, want [hi]", snap)
	}
}

func TestRoomHistoryCapBoundary(t *testing.T) {
	reg := NewRegistry(100, time.Hour, testLogger())
	r := reg.GetOrCreate("r2")
	for i := 1; i <= 101; i++ {
		r.Publish(string(rune('0' + i%10)))
	}
	snap := r.History.Snapshot()
	if len(snap) != 100 {
		t.Fatalf("len(snapshot) = %d, want 100", len(snap))
	}
}
