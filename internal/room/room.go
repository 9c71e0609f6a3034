package room

import (
	"math"
	"sync"
	"time"
	"weak"

	"github.com/rs/zerolog"

	"github.com/nirel-io/roomcast/internal/monitoring"
)

// status tags the two states a Room's lifecycle can be in. Active(n>0)
// never coexists with pendingRemoval; all transitions happen under
// statusMu so "observe empty" and "arm/cancel the eviction timer" are a
// single critical section.
type status int

const (
	statusActive status = iota
	statusPendingRemoval
)

// Room bundles a bounded history, a broadcast hub, a connection count, and
// the Active/PendingRemoval lifecycle state machine described in the
// package overview.
type Room struct {
	name string

	History *HistoryRing
	Hub     *BroadcastHub

	removeAfter time.Duration
	logger      zerolog.Logger

	// registry is a non-owning back-reference used only by the eviction
	// timer to ask for removal. It must never keep the Registry alive:
	// if the process is shutting down and the Registry has already been
	// collected, the timer no-ops instead of reviving it.
	registry weak.Pointer[Registry]

	statusMu    sync.Mutex
	st          status
	connections uint64
	// epoch increments every time a removal timer is armed. The timer
	// goroutine captures the epoch at arm time and only the registry's
	// removeIfPending sees a match; this is the "cancel handle" from the
	// spec, implemented as a generation counter instead of a boxed
	// channel so increment/decrement never allocates on the hot path.
	epoch uint64
	// stop is closed to cancel the currently armed timer, if any.
	stop chan struct{}
}

func newRoom(name string, maxHistory int, removeAfter time.Duration, reg *Registry, logger zerolog.Logger) *Room {
	return &Room{
		name:        name,
		History:     NewHistoryRing(maxHistory),
		Hub:         NewBroadcastHub(maxHistory),
		removeAfter: removeAfter,
		logger:      logger,
		registry:    weak.Make(reg),
		st:          statusActive,
	}
}

// Name returns the room's identifier.
func (r *Room) Name() string { return r.name }

// IncrementConnections records a new session joining the room. If the room
// was PendingRemoval, the armed eviction timer is cancelled and the room
// reactivates with this connection counted.
func (r *Room) IncrementConnections() {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	if r.st == statusPendingRemoval {
		if r.stop != nil {
			close(r.stop)
			r.stop = nil
		}
		r.st = statusActive
	}

	if r.connections == math.MaxUint64 {
		r.logger.Warn().Str("room", r.name).Msg("connection count saturated, refusing to wrap")
		return
	}
	r.connections++
}

// DecrementAndCheck records a session leaving. When the count reaches
// zero, the room transitions to PendingRemoval and an eviction timer is
// armed for removeAfter. Decrementing a room that is already empty or
// already PendingRemoval is a should-never invariant violation: it is
// logged and otherwise ignored.
func (r *Room) DecrementAndCheck() {
	r.statusMu.Lock()

	if r.st == statusPendingRemoval || r.connections == 0 {
		r.logger.Warn().Str("room", r.name).Msg("decrement on empty or pending-removal room")
		r.statusMu.Unlock()
		return
	}

	r.connections--
	if r.connections != 0 {
		r.statusMu.Unlock()
		return
	}

	r.epoch++
	handle := r.epoch
	stop := make(chan struct{})
	r.stop = stop
	r.st = statusPendingRemoval
	r.statusMu.Unlock()

	go r.runEvictionTimer(handle, stop)
}

func (r *Room) runEvictionTimer(handle uint64, stop chan struct{}) {
	timer := time.NewTimer(r.removeAfter)
	defer timer.Stop()

	select {
	case <-stop:
		return
	case <-timer.C:
	}

	reg := r.registry.Value()
	if reg == nil {
		// Registry has already been torn down; nothing left to evict from.
		return
	}
	reg.removeIfPending(r.name, r, handle)
}

// Publish appends msg to the history and fans it out to the hub. The
// append happens before the message becomes observable on the hub so a
// subscriber that receives msg and then queries the history snapshot is
// guaranteed to see it there.
func (r *Room) Publish(msg string) {
	r.History.Append(msg)
	r.Hub.Publish(msg)
	monitoring.MessagesPublishedTotal.Inc()
}

// ConnectionCount reports the current live session count under the status
// lock, for registry listings and tests.
func (r *Room) ConnectionCount() uint64 {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.connections
}

// isPendingRemovalWithHandle reports whether the room is still
// PendingRemoval under the given epoch. Caller must hold statusMu.
func (r *Room) isPendingRemovalWithHandle(handle uint64) bool {
	return r.st == statusPendingRemoval && r.epoch == handle
}
