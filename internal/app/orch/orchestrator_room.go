package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/domain"
	"github.com/dkeye/VideoSync/internal/protocol"
)

// Join adds the connection's member to the room, answers with room-joined
// and sends the new roster to everyone else.
func (o *Orchestrator) Join(conn *core.Connection, msg protocol.JoinRoom) (core.JoinResult, error) {
	if !msg.RoomID.Valid() {
		return core.JoinResult{}, fmt.Errorf("%w: %w", domain.ErrBadPayload, domain.ErrInvalidRoomID)
	}
	if !msg.UserID.Valid() {
		return core.JoinResult{}, fmt.Errorf("%w: %w", domain.ErrBadPayload, domain.ErrInvalidMember)
	}

	// Switching rooms on one connection leaves the previous one.
	if room, member, ok := conn.Binding(); ok && (room != msg.RoomID || member != msg.UserID) {
		o.leave(conn, room, member)
		log.Info().Str("module", "orch").Str("conn", string(conn.ID)).Str("from_room", string(room)).Msg("left previous room")
	}

	res := o.Rooms.Join(msg.RoomID, msg.UserID, conn, msg.Metadata)
	conn.Bind(msg.RoomID, msg.UserID)
	if res.Replaced != nil && res.Replaced != conn {
		// The old transport is a disconnected duplicate: never read from again.
		res.Replaced.Unbind()
		res.Replaced.Signal.Close()
		log.Info().Str("module", "orch").Str("member", string(msg.UserID)).
			Str("old_conn", string(res.Replaced.ID)).Str("conn", string(conn.ID)).Msg("replaced live connection")
	}

	o.send(conn, protocol.RoomJoined{
		Type:      protocol.TypeRoomJoined,
		RoomID:    msg.RoomID,
		UserCount: len(res.Roster),
		Users:     res.Roster,
		Metadata:  res.Metadata,
	})
	o.broadcastRoster(msg.RoomID, msg.UserID, res.Roster)
	o.Metrics.SetRooms(o.Rooms.Count())
	return res, nil
}

// Leave removes the member for good and tells the rest of the room.
func (o *Orchestrator) Leave(conn *core.Connection, msg protocol.LeaveRoom) error {
	member, err := o.boundRoom(conn, msg.RoomID)
	if err != nil {
		return err
	}
	o.leave(conn, msg.RoomID, member)
	return nil
}

func (o *Orchestrator) leave(conn *core.Connection, room domain.RoomID, member domain.MemberID) {
	res := o.Rooms.Leave(room, member)
	conn.Unbind()
	if res.Found && !res.RoomRemoved {
		o.broadcastRoster(room, "", res.Roster)
	}
	o.Metrics.SetRooms(o.Rooms.Count())
}

// OnDisconnect runs when the transport closes. The member stays in the room
// as present-but-disconnected; no roster is sent to avoid reconnect churn.
func (o *Orchestrator) OnDisconnect(conn *core.Connection) {
	if room, member, ok := conn.Binding(); ok {
		o.Rooms.DropConnection(room, member, conn.ID)
		conn.Unbind()
	}
	if o.Registry != nil {
		o.Registry.Unbind(conn.ID)
		o.Metrics.SetConnections(o.Registry.Count())
	}
}

func (o *Orchestrator) broadcastRoster(room domain.RoomID, exclude domain.MemberID, roster []domain.Member) {
	frame, err := protocol.Encode(protocol.UserList{Type: protocol.TypeUserList, Count: len(roster), Users: roster})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode user-list")
		return
	}
	o.publish(room, exclude, o.Rooms.Broadcast(room, exclude, frame))
}

// Sweep removes rooms idle for longer than timeout.
func (o *Orchestrator) Sweep(now time.Time, timeout time.Duration) int {
	swept := o.Rooms.Sweep(now, timeout)
	if n := o.Limiter.Prune(now.Add(-timeout)); n > 0 {
		log.Debug().Str("module", "orch").Int("pruned", n).Int("buckets", o.Limiter.Len()).Msg("idle rate buckets pruned")
	}
	o.Metrics.Swept(len(swept))
	o.Metrics.SetRooms(o.Rooms.Count())
	return len(swept)
}

// RunSweeper sweeps every SweepInterval until ctx is done.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	interval, timeout := o.SweepInterval, o.InactivityTimeout
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Str("module", "orch").Dur("interval", interval).Dur("timeout", timeout).Msg("room sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("room sweeper stopped")
			return
		case <-ticker.C:
			if n := o.Sweep(time.Now(), timeout); n > 0 {
				log.Info().Str("module", "orch").Int("swept", n).Int("rooms", o.Rooms.Count()).Msg("sweep done")
			}
		}
	}
}
