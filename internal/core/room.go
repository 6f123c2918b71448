package core

import (
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/domain"
)

// room is the per-room state. Every read and mutation happens under mu, so
// operations on one room are serialized while other rooms proceed.
type room struct {
	id domain.RoomID

	mu           sync.Mutex
	order        []domain.MemberID
	members      map[domain.MemberID]*memberEntry
	meta         *domain.RoomMetadata
	lastActivity time.Time
	// deleted is set once the room left the registry; late lockers must retry.
	deleted bool
}

func newRoom(id domain.RoomID, now time.Time) *room {
	return &room{
		id:           id,
		members:      make(map[domain.MemberID]*memberEntry),
		lastActivity: now,
	}
}

func (r *room) join(member domain.MemberID, conn *Connection, jm *domain.JoinMetadata, now time.Time) JoinResult {
	res := JoinResult{}
	first := len(r.members) == 0
	if first && r.meta == nil && jm != nil {
		r.meta = &domain.RoomMetadata{
			CreatorID: member,
			CreatedAt: now.UnixMilli(),
			Username:  domain.SanitizeUsername(jm.Username),
			URL:       jm.URL,
			Title:     jm.Title,
			Platform:  jm.Platform,
		}
		res.Created = true
	}

	m, ok := r.members[member]
	if !ok {
		m = &memberEntry{id: member}
		r.members[member] = m
		r.order = append(r.order, member)
	}
	if jm != nil {
		if name := domain.SanitizeUsername(jm.Username); name != "" {
			m.username = name
		}
	}
	if m.live != nil && m.live != conn {
		res.Replaced = m.live
	}
	m.live = conn
	r.lastActivity = now

	res.Roster = r.rosterLocked()
	res.Metadata = r.metadataLocked()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("member", string(member)).
		Str("conn", string(conn.ID)).Int("members", len(r.members)).Bool("replaced", res.Replaced != nil).Msg("member joined")
	return res
}

func (r *room) leave(member domain.MemberID) bool {
	if _, ok := r.members[member]; !ok {
		return false
	}
	delete(r.members, member)
	r.order = slices.DeleteFunc(r.order, func(id domain.MemberID) bool { return id == member })
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("member", string(member)).
		Int("members", len(r.members)).Msg("member left")
	return true
}

// drop clears the live connection only if it is still conn. A newer
// connection from a reconnect must survive the old transport's close.
func (r *room) drop(member domain.MemberID, conn ConnID) bool {
	m, ok := r.members[member]
	if !ok || m.live == nil || m.live.ID != conn {
		return false
	}
	m.live = nil
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("member", string(member)).
		Str("conn", string(conn)).Msg("live connection dropped")
	return true
}

func (r *room) broadcast(exclude domain.MemberID, f Frame) PublishResult {
	res := PublishResult{}
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		m := r.members[id]
		if m.live == nil {
			continue
		}
		if err := m.live.TrySend(f); err != nil {
			res.Failures = append(res.Failures, domain.DeliveryFailure{Member: id, Conn: string(m.live.ID), Err: err})
			continue
		}
		res.SentTo++
	}
	return res
}

func (r *room) unicast(target domain.MemberID, f Frame) PublishResult {
	res := PublishResult{}
	m, ok := r.members[target]
	if !ok || m.live == nil {
		return res
	}
	if err := m.live.TrySend(f); err != nil {
		res.Failures = append(res.Failures, domain.DeliveryFailure{Member: target, Conn: string(m.live.ID), Err: err})
		return res
	}
	res.SentTo = 1
	return res
}

func (r *room) rosterLocked() []domain.Member {
	out := make([]domain.Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id].view(r.meta))
	}
	return out
}

func (r *room) metadataLocked() *domain.RoomMetadata {
	if r.meta == nil {
		return nil
	}
	cp := *r.meta
	return &cp
}

func (r *room) snapshotLocked() RoomSnapshot {
	live := make(map[domain.MemberID]ConnID)
	for id, m := range r.members {
		if m.live != nil {
			live[id] = m.live.ID
		}
	}
	return RoomSnapshot{
		ID:           r.id,
		Members:      r.rosterLocked(),
		Live:         live,
		Metadata:     r.metadataLocked(),
		LastActivity: r.lastActivity,
	}
}
