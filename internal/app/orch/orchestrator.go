package orch

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/app"
	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/domain"
	"github.com/dkeye/VideoSync/internal/metrics"
	"github.com/dkeye/VideoSync/internal/protocol"
)

// Orchestrator implements the protocol operations on top of the room
// registry. Every call receives the explicit connection record.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *core.Registry
	Policy   app.Policy
	Metrics  *metrics.Metrics
	// Limiter buckets idle past InactivityTimeout are pruned on sweep.
	Limiter *app.EventLimiter

	SweepInterval     time.Duration
	InactivityTimeout time.Duration
}

// boundRoom returns the member this connection joined roomID as.
func (o *Orchestrator) boundRoom(conn *core.Connection, roomID domain.RoomID) (domain.MemberID, error) {
	room, member, ok := conn.Binding()
	if !ok || room != roomID {
		return "", fmt.Errorf("%w: %q", domain.ErrRoomNotJoined, roomID)
	}
	return member, nil
}

// SyncEvent touches the room and relays the event to every other member.
func (o *Orchestrator) SyncEvent(conn *core.Connection, msg protocol.SyncEvent) error {
	member, err := o.boundRoom(conn, msg.RoomID)
	if err != nil {
		return err
	}
	if len(msg.Data) == 0 {
		return fmt.Errorf("%w: sync-event without data", domain.ErrBadPayload)
	}
	o.Rooms.Touch(msg.RoomID)
	frame, err := protocol.Encode(protocol.RemoteEvent{Type: protocol.TypeRemoteEvent, Data: msg.Data})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	o.publish(msg.RoomID, member, o.Rooms.Broadcast(msg.RoomID, member, frame))
	return nil
}

// RequestSync asks every other member for its playback state.
func (o *Orchestrator) RequestSync(conn *core.Connection, msg protocol.RequestSync) error {
	member, err := o.boundRoom(conn, msg.RoomID)
	if err != nil {
		return err
	}
	o.Rooms.Touch(msg.RoomID)
	frame, err := protocol.Encode(protocol.SyncRequest{Type: protocol.TypeSyncRequest, Data: msg.Data, RequesterID: member})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	o.publish(msg.RoomID, member, o.Rooms.Broadcast(msg.RoomID, member, frame))
	return nil
}

// SyncResponse is delivered to the target named in the payload only.
// An offline target is a normal outcome.
func (o *Orchestrator) SyncResponse(conn *core.Connection, msg protocol.SyncResponse) error {
	member, err := o.boundRoom(conn, msg.RoomID)
	if err != nil {
		return err
	}
	target, err := protocol.TargetOf(msg.Data)
	if err != nil {
		return err
	}
	o.Rooms.Touch(msg.RoomID)
	frame, err := protocol.Encode(protocol.SyncState{Type: protocol.TypeSyncState, Data: msg.Data})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	res := o.Rooms.Unicast(msg.RoomID, target, frame)
	if res.SentTo == 0 && len(res.Failures) == 0 {
		log.Debug().Str("module", "orch").Str("room", string(msg.RoomID)).Str("from", string(member)).
			Str("target", string(target)).Msg("sync-response target offline")
	}
	o.publish(msg.RoomID, member, res)
	return nil
}

// Ping touches the connection's room, if any, and answers with a pong.
func (o *Orchestrator) Ping(conn *core.Connection, msg protocol.Ping) {
	if room, _, ok := conn.Binding(); ok {
		o.Rooms.Touch(room)
	}
	o.send(conn, protocol.Pong{Type: protocol.TypePong, Timestamp: msg.Timestamp})
}

// publish accounts for delivery failures. They never propagate to the caller.
func (o *Orchestrator) publish(room domain.RoomID, from domain.MemberID, res core.PublishResult) {
	o.Metrics.Delivery(res.SentTo, len(res.Failures))
	log.Debug().Str("module", "orch").Str("room", string(room)).Str("from", string(from)).
		Int("sent_to", res.SentTo).Int("failed", len(res.Failures)).Msg("publish result")
	for _, f := range res.Failures {
		log.Warn().Err(f.Err).Str("module", "orch").Str("room", string(room)).
			Str("member", string(f.Member)).Str("conn", f.Conn).Msg("delivery failure")
		if o.Policy == nil || o.Policy.OnDeliveryFailure(f) != app.CloseConnection {
			continue
		}
		if o.Registry == nil {
			continue
		}
		o.Registry.Cancel(core.ConnID(f.Conn))
	}
}

func (o *Orchestrator) send(conn *core.Connection, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn.ID)).Msg("reply dropped")
	}
}
