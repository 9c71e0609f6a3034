package room

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventKind tags the variant carried by an Event yielded from Cursor.Next.
type EventKind int

const (
	// EventMessage carries a published message in publish order.
	EventMessage EventKind = iota
	// EventLagged reports that Lagged messages were dropped for this
	// cursor because its backlog was full; the cursor has resumed from
	// the current tail.
	EventLagged
	// EventClosed is the terminal event: the cursor's context was
	// cancelled or the subscriber was explicitly removed.
	EventClosed
)

// Event is one item yielded by Cursor.Next.
type Event struct {
	Kind    EventKind
	Message string
	Lagged  uint64
}

// Cursor is a subscriber's private view onto a BroadcastHub, positioned at
// the tail at subscribe time. Its backlog is a bounded buffer; once full,
// the oldest undelivered message is dropped to make room for the newest
// (drop-oldest), and the drop count accumulates until the next Next call
// reports it as a Lagged event.
type Cursor struct {
	mu     sync.Mutex
	ch     chan string
	lagged uint64
	closed bool
}

// Next blocks until a message, a lag report, or cancellation is available.
// A Lagged event is reported before resuming normal message delivery.
func (c *Cursor) Next(ctx context.Context) Event {
	c.mu.Lock()
	if c.lagged > 0 {
		k := c.lagged
		c.lagged = 0
		c.mu.Unlock()
		return Event{Kind: EventLagged, Lagged: k}
	}
	c.mu.Unlock()

	select {
	case msg, ok := <-c.ch:
		if !ok {
			return Event{Kind: EventClosed}
		}
		return Event{Kind: EventMessage, Message: msg}
	case <-ctx.Done():
		return Event{Kind: EventClosed}
	}
}

func (c *Cursor) push(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- msg:
		return
	default:
	}
	// Backlog full: drop the oldest to make room for the newest.
	select {
	case <-c.ch:
	default:
	}
	c.lagged++
	select {
	case c.ch <- msg:
	default:
		// Another goroutine refilled the slot between the drain and the
		// send above; count this message as dropped too rather than block.
		c.lagged++
	}
}

func (c *Cursor) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// BroadcastHub is a single-producer(-per-call)-multi-consumer fan-out
// primitive. Publish never blocks on a subscriber: a slow consumer loses
// its oldest undelivered messages rather than stalling the publisher.
//
// The subscriber set is stored as a copy-on-write slice behind an
// atomic.Value so Publish's hot path never takes a lock shared with
// Subscribe/Unsubscribe.
type BroadcastHub struct {
	subscribers atomic.Value // []*Cursor
	addMu       sync.Mutex   // serializes Subscribe/Unsubscribe mutations
	backlog     int
}

// NewBroadcastHub creates a hub whose per-subscriber backlog holds up to
// backlog messages before drop-oldest kicks in.
func NewBroadcastHub(backlog int) *BroadcastHub {
	if backlog < 1 {
		backlog = 1
	}
	h := &BroadcastHub{backlog: backlog}
	h.subscribers.Store([]*Cursor{})
	return h
}

func (h *BroadcastHub) load() []*Cursor {
	return h.subscribers.Load().([]*Cursor)
}

// Subscribe returns a fresh cursor that observes only messages published
// after this call returns.
func (h *BroadcastHub) Subscribe() *Cursor {
	c := &Cursor{ch: make(chan string, h.backlog)}
	h.addMu.Lock()
	defer h.addMu.Unlock()
	old := h.load()
	next := make([]*Cursor, len(old)+1)
	copy(next, old)
	next[len(old)] = c
	h.subscribers.Store(next)
	return c
}

// Unsubscribe removes a cursor from the subscriber set and closes it.
// Safe to call more than once for the same cursor.
func (h *BroadcastHub) Unsubscribe(c *Cursor) {
	h.addMu.Lock()
	old := h.load()
	next := make([]*Cursor, 0, len(old))
	for _, existing := range old {
		if existing != c {
			next = append(next, existing)
		}
	}
	h.subscribers.Store(next)
	h.addMu.Unlock()
	c.close()
}

// Publish fans msg out to every current subscriber without waiting for any
// of them. It returns false if there were no active subscribers at the
// moment of publish (a no-op success the caller may ignore).
//
// Safe to call concurrently from multiple publishers.
func (h *BroadcastHub) Publish(msg string) bool {
	subs := h.load()
	for _, c := range subs {
		c.push(msg)
	}
	return len(subs) > 0
}

// SubscriberCount reports the current number of active cursors, for
// operator inspection only.
func (h *BroadcastHub) SubscriberCount() int {
	return len(h.load())
}
