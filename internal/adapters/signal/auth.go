package signal

import (
	"crypto/subtle"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/domain"
	"github.com/dkeye/VideoSync/internal/protocol"
)

func (ctl *SignalWSController) handleAuthenticate(conn *core.Connection, data []byte) error {
	var p protocol.Authenticate
	// An undecodable frame carries no key and fails below.
	_ = protocol.Decode(data, &p)
	if !ctl.validKey(p.APIKey) {
		conn.SetAuth(core.Unauthenticated)
		ctl.sendJSON(conn, protocol.Authenticated{
			Type:    protocol.TypeAuthenticated,
			Success: false,
			Message: "Invalid API key",
		})
		return domain.ErrAuthentication
	}

	conn.SetAuth(core.Authenticated)
	log.Info().Str("module", "signal").Str("conn", string(conn.ID)).Msg("authenticated")
	ctl.sendJSON(conn, protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: true})
	return nil
}

// validKey compares in constant time. An empty configured key accepts nothing.
func (ctl *SignalWSController) validKey(key string) bool {
	if ctl.APIKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(ctl.APIKey)) == 1
}
