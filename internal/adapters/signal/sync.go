package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/protocol"
)

// allow applies the per-member rate limit. Over-limit traffic is dropped
// without an error frame.
func (ctl *SignalWSController) allow(conn *core.Connection, typ string) bool {
	room, member, ok := conn.Binding()
	if !ok || ctl.Limiter.Allow(member) {
		return true
	}
	ctl.Orch.Metrics.Limited()
	log.Debug().Str("module", "signal").Str("conn", string(conn.ID)).Str("room", string(room)).
		Str("member", string(member)).Str("type", typ).Msg("rate limited")
	return false
}

func (ctl *SignalWSController) handleSyncEvent(conn *core.Connection, data []byte) error {
	var p protocol.SyncEvent
	if err := protocol.Decode(data, &p); err != nil {
		return err
	}
	if !ctl.allow(conn, p.Type) {
		return nil
	}
	return ctl.Orch.SyncEvent(conn, p)
}

func (ctl *SignalWSController) handleRequestSync(conn *core.Connection, data []byte) error {
	var p protocol.RequestSync
	if err := protocol.Decode(data, &p); err != nil {
		return err
	}
	if !ctl.allow(conn, p.Type) {
		return nil
	}
	return ctl.Orch.RequestSync(conn, p)
}

func (ctl *SignalWSController) handleSyncResponse(conn *core.Connection, data []byte) error {
	var p protocol.SyncResponse
	if err := protocol.Decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.SyncResponse(conn, p)
}
