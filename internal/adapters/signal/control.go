package signal

import (
	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/protocol"
)

func (ctl *SignalWSController) handlePing(conn *core.Connection, data []byte) error {
	var p protocol.Ping
	if err := protocol.Decode(data, &p); err != nil {
		return err
	}
	ctl.Orch.Ping(conn, p)
	return nil
}
