package room

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nirel-io/roomcast/internal/monitoring"
)

// Registry is the process-wide mapping from room name to Room. Rooms are
// created lazily by GetOrCreate and removed only by the eviction timer
// armed in Room.DecrementAndCheck, through removeIfPending.
//
// Lock ordering (must be respected everywhere in this package): the
// registry map lock is always acquired before a room's status lock, never
// the reverse.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	maxHistory int
	removeAfter time.Duration
	logger     zerolog.Logger
}

// RoomInfo is a read-only snapshot of one room's name and live connection
// count, returned by List for operator inspection.
type RoomInfo struct {
	Name        string
	Connections uint64
}

// NewRegistry creates an empty registry. maxHistory bounds each room's
// history ring and per-subscriber backlog; removeAfter is the empty-room
// grace period before eviction.
func NewRegistry(maxHistory int, removeAfter time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		maxHistory:  maxHistory,
		removeAfter: removeAfter,
		logger:      logger,
	}
}

// GetOrCreate returns the room for name, creating it if absent. If the
// existing room was PendingRemoval, its eviction timer is cancelled and it
// is reset to Active before being returned; the caller is expected to call
// IncrementConnections immediately after. Between that reset and the
// increment another goroutine may observe zero connections; this is by
// design, the status lock inside IncrementConnections makes the observed
// transition atomic from each caller's perspective.
func (reg *Registry) GetOrCreate(name string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if rm, ok := reg.rooms[name]; ok {
		rm.reactivateIfPending()
		return rm
	}

	rm := newRoom(name, reg.maxHistory, reg.removeAfter, reg, reg.logger)
	reg.rooms[name] = rm
	monitoring.RoomsCreatedTotal.Inc()
	return rm
}

// Get returns the room for name without creating it.
func (reg *Registry) Get(name string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rm, ok := reg.rooms[name]
	return rm, ok
}

// List returns a snapshot of every room's name and connection count.
func (reg *Registry) List() []RoomInfo {
	reg.mu.RLock()
	names := make([]*Room, 0, len(reg.rooms))
	out := make([]RoomInfo, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		names = append(names, rm)
	}
	reg.mu.RUnlock()

	for _, rm := range names {
		out = append(out, RoomInfo{Name: rm.Name(), Connections: rm.ConnectionCount()})
	}
	return out
}

// Count reports the number of rooms currently tracked.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// removeIfPending evicts name from the map only if the entry is still rm
// and rm is still PendingRemoval under the given handle (epoch). Called
// exclusively by a room's eviction timer goroutine.
func (reg *Registry) removeIfPending(name string, rm *Room, handle uint64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	current, ok := reg.rooms[name]
	if !ok || current != rm {
		return
	}

	rm.statusMu.Lock()
	defer rm.statusMu.Unlock()
	if rm.isPendingRemovalWithHandle(handle) {
		delete(reg.rooms, name)
		monitoring.RoomsEvictedTotal.Inc()
	}
}

func (r *Room) reactivateIfPending() {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if r.st == statusPendingRemoval {
		if r.stop != nil {
			close(r.stop)
			r.stop = nil
		}
		r.st = statusActive
	}
}
