package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/protocol"
)

func (ctl *SignalWSController) handleJoin(conn *core.Connection, data []byte) error {
	var p protocol.JoinRoom
	if err := protocol.Decode(data, &p); err != nil {
		return err
	}
	res, err := ctl.Orch.Join(conn, p)
	if err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.ID)).Str("room", string(p.RoomID)).
		Str("member", string(p.UserID)).Int("members", len(res.Roster)).Bool("created", res.Created).Msg("join")
	return nil
}

// handleLeave removes the member for good; the connection stays open.
func (ctl *SignalWSController) handleLeave(conn *core.Connection, data []byte) error {
	var p protocol.LeaveRoom
	if err := protocol.Decode(data, &p); err != nil {
		return err
	}
	_, member, _ := conn.Binding()
	if err := ctl.Orch.Leave(conn, p); err != nil {
		return err
	}
	ctl.Limiter.Forget(member)
	log.Info().Str("module", "signal").Str("conn", string(conn.ID)).Str("room", string(p.RoomID)).
		Str("member", string(member)).Msg("leave")
	return nil
}
