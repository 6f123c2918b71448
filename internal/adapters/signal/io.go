package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/domain"
	"github.com/dkeye/VideoSync/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, conn *core.Connection, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(conn.ID)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(conn)
		c.closeAfterFlush()
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(conn.ID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.ID)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
			if err := ctl.handleSignal(conn, data); err != nil && ctl.reject(conn, c, err) {
				return
			}
		}
	}
}

// handleSignal dispatches one inbound frame. Before authentication only
// authenticate is accepted.
func (ctl *SignalWSController) handleSignal(conn *core.Connection, data []byte) error {
	typ, err := protocol.PeekType(data)
	if conn.Auth() != core.Authenticated {
		if err != nil || typ != protocol.TypeAuthenticate {
			return domain.ErrNotAuthorized
		}
		ctl.Orch.Metrics.Message(typ)
		return ctl.handleAuthenticate(conn, data)
	}
	if err != nil {
		return err
	}
	// Client-chosen types must not become label values.
	if protocol.Inbound(typ) {
		ctl.Orch.Metrics.Message(typ)
	} else {
		ctl.Orch.Metrics.Message(metricUnknownType)
	}

	switch typ {
	case protocol.TypeAuthenticate:
		return ctl.handleAuthenticate(conn, data)
	case protocol.TypeJoinRoom:
		return ctl.handleJoin(conn, data)
	case protocol.TypeLeaveRoom:
		return ctl.handleLeave(conn, data)
	case protocol.TypeSyncEvent:
		return ctl.handleSyncEvent(conn, data)
	case protocol.TypeRequestSync:
		return ctl.handleRequestSync(conn, data)
	case protocol.TypeSyncResponse:
		return ctl.handleSyncResponse(conn, data)
	case protocol.TypePing:
		return ctl.handlePing(conn, data)
	default:
		log.Warn().Str("module", "signal").Str("conn", string(conn.ID)).Str("type", typ).Msg("unknown signal")
		return errUnknownType
	}
}

var errUnknownType = errors.New("unknown message type")

const metricUnknownType = "unknown"

// reject reports err to the client and says whether the connection must close.
func (ctl *SignalWSController) reject(conn *core.Connection, c *WsSignalConn, err error) bool {
	l := log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.ID))
	if room, member, ok := conn.Binding(); ok {
		l = l.Str("room", string(room)).Str("member", string(member))
	}
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		// authenticated{success:false} was already queued.
		l.Msg("authentication failed, closing")
		ctl.Orch.Metrics.AuthFailed()
		return true
	case errors.Is(err, domain.ErrProtocolSequence):
		l.Msg("protocol violation, closing")
		ctl.Orch.Metrics.ProtocolError()
		_ = c.TrySend(protocol.NewError(err.Error()))
		return true
	default:
		l.Msg("message rejected")
		_ = c.TrySend(protocol.NewError(err.Error()))
		return false
	}
}

func (ctl *SignalWSController) sendJSON(conn *core.Connection, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.ID)).Msg("sendJSON dropped")
	}
}
