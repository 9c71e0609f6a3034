// Package room implements the fan-out and lifecycle engine: a bounded
// per-room message history, a drop-oldest broadcast hub, and the
// room/registry state machine that creates rooms lazily and reaps them
// after a grace period of inactivity.
package room

import "sync"

// HistoryRing is a bounded FIFO of the most recent messages published to a
// room. Append is O(1) amortized; once the ring is full, the oldest entry
// is evicted to make room for the new one.
//
// Append and Snapshot are both guarded by the same mutex so a snapshot
// never observes a torn write.
type HistoryRing struct {
	mu       sync.RWMutex
	messages []string
	capacity int
}

// NewHistoryRing creates a ring with the given capacity. A non-positive
// capacity is treated as 1.
func NewHistoryRing(capacity int) *HistoryRing {
	if capacity < 1 {
		capacity = 1
	}
	return &HistoryRing{
		messages: make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a message to the tail, evicting the head if the ring is full.
func (r *HistoryRing) Append(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == r.capacity {
		// Drop the head by reslicing, then append. The backing array is
		// reallocated only once its spare tail capacity is used up, so the
		// copy cost is spread over many appends.
		r.messages = append(r.messages[1:], msg)
		return
	}
	r.messages = append(r.messages, msg)
}

// Snapshot returns a shallow copy of the ring's contents in insertion order.
func (r *HistoryRing) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// Len reports the current number of messages held.
func (r *HistoryRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}
