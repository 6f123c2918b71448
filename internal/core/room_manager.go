package core

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/domain"
)

// Registry is the authoritative map from room id to room state.
//
// Lock order is room.mu then Registry.mu. The registry lock only guards the
// map itself and is never held while acquiring a room lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
	now   func() time.Time
}

type RegistryOption func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms: make(map[domain.RoomID]*room),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) get(id domain.RoomID) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

func (r *Registry) getOrCreate(id domain.RoomID) *room {
	if rm := r.get(id); rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[id]; ok {
		return rm
	}
	rm := newRoom(id, r.now())
	r.rooms[id] = rm
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
	return rm
}

// remove deletes rm from the map if it is still the registered instance.
// Caller holds rm.mu.
func (r *Registry) remove(rm *room) {
	rm.deleted = true
	r.mu.Lock()
	if cur, ok := r.rooms[rm.id]; ok && cur == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
}

// withRoom runs fn under the room lock; false if the room does not exist.
func (r *Registry) withRoom(id domain.RoomID, fn func(rm *room)) bool {
	rm := r.get(id)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.deleted {
		return false
	}
	fn(rm)
	return true
}

// Join creates the room if needed, adds member idempotently and records conn
// as its live connection. Metadata is captured only from the first member.
func (r *Registry) Join(id domain.RoomID, member domain.MemberID, conn *Connection, jm *domain.JoinMetadata) JoinResult {
	for {
		rm := r.getOrCreate(id)
		rm.mu.Lock()
		if rm.deleted {
			// Lost a race with leave/sweep; the next getOrCreate makes a fresh room.
			rm.mu.Unlock()
			continue
		}
		res := rm.join(member, conn, jm, r.now())
		rm.mu.Unlock()
		return res
	}
}

// Leave removes member from the member set. The room is deleted when its
// member set becomes empty.
func (r *Registry) Leave(id domain.RoomID, member domain.MemberID) LeaveResult {
	res := LeaveResult{}
	r.withRoom(id, func(rm *room) {
		res.Found = rm.leave(member)
		if !res.Found {
			return
		}
		rm.lastActivity = r.now()
		if len(rm.members) == 0 {
			r.remove(rm)
			res.RoomRemoved = true
			log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room removed: empty")
			return
		}
		res.Roster = rm.rosterLocked()
	})
	return res
}

// DropConnection clears member's live connection if it is still conn.
// The member stays in the member set.
func (r *Registry) DropConnection(id domain.RoomID, member domain.MemberID, conn ConnID) bool {
	dropped := false
	r.withRoom(id, func(rm *room) {
		dropped = rm.drop(member, conn)
	})
	return dropped
}

// Touch updates the room's last-activity clock.
func (r *Registry) Touch(id domain.RoomID) bool {
	return r.withRoom(id, func(rm *room) {
		rm.lastActivity = r.now()
	})
}

// Broadcast delivers f to every live connection in the room except exclude.
// Failures are reported in the result, never returned as an error.
func (r *Registry) Broadcast(id domain.RoomID, exclude domain.MemberID, f Frame) PublishResult {
	var res PublishResult
	r.withRoom(id, func(rm *room) {
		res = rm.broadcast(exclude, f)
	})
	return res
}

// Unicast delivers f to target only if it has a live connection.
func (r *Registry) Unicast(id domain.RoomID, target domain.MemberID, f Frame) PublishResult {
	var res PublishResult
	r.withRoom(id, func(rm *room) {
		res = rm.unicast(target, f)
	})
	return res
}

// Sweep deletes every room whose last activity is older than timeout,
// regardless of member count. Staleness is re-checked under the room lock.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []domain.RoomID {
	r.mu.RLock()
	candidates := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		candidates = append(candidates, rm)
	}
	r.mu.RUnlock()

	var swept []domain.RoomID
	for _, rm := range candidates {
		rm.mu.Lock()
		if !rm.deleted && now.Sub(rm.lastActivity) > timeout {
			r.remove(rm)
			swept = append(swept, rm.id)
			log.Info().Str("module", "core.registry").Str("room", string(rm.id)).
				Int("members", len(rm.members)).Time("last_activity", rm.lastActivity).Msg("room swept: inactive")
		}
		rm.mu.Unlock()
	}
	return swept
}

func (r *Registry) Snapshot(id domain.RoomID) (RoomSnapshot, bool) {
	var snap RoomSnapshot
	ok := r.withRoom(id, func(rm *room) {
		snap = rm.snapshotLocked()
	})
	return snap, ok
}

// List returns room infos sorted by id.
func (r *Registry) List() []RoomInfo {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.deleted {
			info := RoomInfo{ID: rm.id, MemberCount: len(rm.members), LastActivity: rm.lastActivity}
			for _, m := range rm.members {
				if m.live != nil {
					info.LiveCount++
				}
			}
			if rm.meta != nil {
				info.CreatedAt = rm.meta.CreatedAt
			}
			out = append(out, info)
		}
		rm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
