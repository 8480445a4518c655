// Package registry tracks live signaling connections keyed by (room, user).
// It is sharded by room: each room owns its own lock, so unrelated rooms
// never contend. The registry is authoritative for room membership; the
// persisted Participant rows are only an audit mirror.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/clearhealth/telehealth-signaling/internal/models"
)

// Handle is a live signaling channel owned by a single connection. TrySend
// must never block; it returns an error when the connection is closed or its
// buffer is full. The registry swallows those errors, they are transient
// delivery failures by contract.
type Handle interface {
	TrySend(frame models.Frame) error
	Close()
}

type room struct {
	mu      sync.RWMutex
	members map[string]Handle // user id -> handle
}

// Registry is the in-memory room -> user -> handle map.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

func (r *Registry) getRoom(roomID string) (*room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

// Connect admits a handle for (roomID, userID) and returns the room's member
// count afterwards. A second connect for the same pair replaces the first;
// the replaced handle is closed so it does not leak. The insert happens under
// the registry lock so a concurrent empty-room cleanup can never orphan it.
func (r *Registry) Connect(roomID, userID string, h Handle) int {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]Handle)}
		r.rooms[roomID] = rm
		log.Debug().Str("module", "registry").Str("room_id", roomID).Msg("room created")
	}
	rm.mu.Lock()
	old, replaced := rm.members[userID]
	rm.members[userID] = h
	count := len(rm.members)
	rm.mu.Unlock()
	r.mu.Unlock()

	if replaced {
		log.Info().Str("module", "registry").Str("room_id", roomID).Str("user_id", userID).
			Msg("duplicate connect, replacing previous handle")
		old.Close()
	}
	return count
}

// Disconnect removes the (roomID, userID) entry and reports the remaining
// member count. The room mapping is deleted entirely once empty so no orphan
// rooms accumulate. Unknown entries are a no-op.
func (r *Registry) Disconnect(roomID, userID string) (remaining int, removed bool) {
	return r.remove(roomID, userID, nil)
}

// DisconnectHandle removes the entry only while h is still the registered
// handle. A replaced connection's cleanup path uses this so it cannot evict
// its own replacement.
func (r *Registry) DisconnectHandle(roomID, userID string, h Handle) (remaining int, removed bool) {
	return r.remove(roomID, userID, h)
}

func (r *Registry) remove(roomID, userID string, match Handle) (remaining int, removed bool) {
	rm, ok := r.getRoom(roomID)
	if !ok {
		return 0, false
	}

	rm.mu.Lock()
	cur, present := rm.members[userID]
	if present && (match == nil || cur == match) {
		delete(rm.members, userID)
		removed = true
	}
	remaining = len(rm.members)
	empty := remaining == 0
	rm.mu.Unlock()

	if empty {
		r.mu.Lock()
		// Re-check under the registry lock: a concurrent Connect may have
		// repopulated the room through the same *room pointer.
		rm.mu.Lock()
		if len(rm.members) == 0 && r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
			log.Debug().Str("module", "registry").Str("room_id", roomID).Msg("empty room removed")
		}
		rm.mu.Unlock()
		r.mu.Unlock()
	}
	return remaining, removed
}

// Broadcast fans a frame out to every member of the room except exclude.
// Failed sends are dropped; a dead handle must never surface as an error to
// the caller.
func (r *Registry) Broadcast(roomID string, frame models.Frame, exclude string) {
	rm, ok := r.getRoom(roomID)
	if !ok {
		return
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for userID, h := range rm.members {
		if userID == exclude {
			continue
		}
		if err := h.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "registry").Str("room_id", roomID).
				Str("user_id", userID).Msg("dropped broadcast frame")
		}
	}
}

// SendTo delivers a frame to one member of the room. Absence of the target is
// a no-op: it may legitimately race with a disconnect.
func (r *Registry) SendTo(roomID, userID string, frame models.Frame) {
	rm, ok := r.getRoom(roomID)
	if !ok {
		return
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	h, ok := rm.members[userID]
	if !ok {
		return
	}
	if err := h.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "registry").Str("room_id", roomID).
			Str("user_id", userID).Msg("dropped unicast frame")
	}
}

// Participants returns a snapshot of the user ids currently registered in
// the room.
func (r *Registry) Participants(roomID string) []string {
	rm, ok := r.getRoom(roomID)
	if !ok {
		return nil
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]string, 0, len(rm.members))
	for userID := range rm.members {
		out = append(out, userID)
	}
	return out
}
