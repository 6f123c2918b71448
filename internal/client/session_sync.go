package client

import (
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/domain"
	"github.com/dkeye/VideoSync/internal/protocol"
)

// suppress marks the player as being driven by a remote change. The settle
// timer restarts on every remote change.
func (s *Session) suppress() {
	s.applyingRemote = true
	s.arm(&s.settleT, s.cfg.SettleWindow, func() { s.applyingRemote = false })
}

// applyRemote applies a relayed PlaybackEvent unless it is stale.
func (s *Session) applyRemote(data json.RawMessage) {
	var ev domain.PlaybackEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad remote event")
		return
	}
	delay := ev.Delay(s.clock.Now())
	if delay > s.cfg.StaleThreshold {
		log.Debug().Err(domain.ErrStaleEvent).Str("module", "client").Str("action", string(ev.Action)).
			Dur("delay", delay).Msg("remote event dropped")
		return
	}
	if delay < 0 {
		delay = 0
	}
	if s.player == nil || !ev.Action.Valid() {
		return
	}

	s.suppress()
	switch ev.Action {
	case domain.ActionPlay:
		s.player.SetCurrentTime(ev.CurrentTime + delay.Seconds())
		s.player.Play()
	case domain.ActionPause:
		s.player.SetCurrentTime(ev.CurrentTime)
		s.player.Pause()
	case domain.ActionSeek:
		s.player.SetCurrentTime(ev.CurrentTime)
	case domain.ActionRateChange:
		s.player.SetPlaybackRate(ev.PlaybackRate)
	}
	log.Debug().Str("module", "client").Str("action", string(ev.Action)).Str("from", ev.UserID).
		Float64("position", ev.CurrentTime).Dur("delay", delay).Msg("remote event applied")
	if s.obs.OnRemoteApplied != nil {
		s.obs.OnRemoteApplied(ev)
	}
}

// emitLocal sends a local change. Echoes of remote changes and events
// while not ACTIVE are dropped, never queued.
func (s *Session) emitLocal(a domain.Action) {
	if s.applyingRemote {
		log.Debug().Str("module", "client").Str("action", string(a)).Msg("echo suppressed")
		return
	}
	if s.state != StateActive || s.tr == nil || s.player == nil {
		log.Debug().Str("module", "client").Str("action", string(a)).Stringer("state", s.state).Msg("local event dropped")
		return
	}
	ev := domain.PlaybackEvent{
		Action:      a,
		CurrentTime: s.player.CurrentTime(),
		Timestamp:   s.clock.Now().UnixMilli(),
		UserID:      string(s.cfg.MemberID),
	}
	if a == domain.ActionRateChange {
		ev.PlaybackRate = s.player.PlaybackRate()
	}
	data, err := protocol.Raw(ev)
	if err != nil {
		return
	}
	s.send(protocol.SyncEvent{Type: protocol.TypeSyncEvent, RoomID: s.target.RoomID, UserID: s.cfg.MemberID, Data: data})
}

func (s *Session) localState() domain.PlaybackState {
	return domain.PlaybackState{
		CurrentTime:  s.player.CurrentTime(),
		Paused:       s.player.Paused(),
		PlaybackRate: s.player.PlaybackRate(),
		Timestamp:    s.clock.Now().UnixMilli(),
	}
}

func (s *Session) startDrift() {
	if s.cfg.DriftInterval < 0 || s.player == nil {
		return
	}
	s.arm(&s.driftT, s.cfg.DriftInterval, s.requestSync)
}

func (s *Session) requestSync() {
	if s.state != StateActive {
		return
	}
	if len(s.roster) > 1 {
		st := s.localState()
		st.RequesterID = string(s.cfg.MemberID)
		if data, err := protocol.Raw(st); err == nil {
			s.send(protocol.RequestSync{Type: protocol.TypeRequestSync, RoomID: s.target.RoomID, UserID: s.cfg.MemberID, Data: data})
		}
	}
	s.arm(&s.driftT, s.cfg.DriftInterval, s.requestSync)
}

// respondSync answers a peer's request with our state, addressed to it.
func (s *Session) respondSync(m protocol.SyncRequest) {
	if s.state != StateActive || s.player == nil || m.RequesterID == "" || m.RequesterID == s.cfg.MemberID {
		return
	}
	st := s.localState()
	st.TargetUserID = string(m.RequesterID)
	data, err := protocol.Raw(st)
	if err != nil {
		return
	}
	s.send(protocol.SyncResponse{Type: protocol.TypeSyncResponse, RoomID: s.target.RoomID, Data: data})
}

// applyState corrects drift only past DriftThreshold so small differences
// do not cause visible jitter.
func (s *Session) applyState(data json.RawMessage) {
	if s.player == nil || s.state != StateActive {
		return
	}
	var st domain.PlaybackState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad sync state")
		return
	}
	if st.TargetUserID != "" && st.TargetUserID != string(s.cfg.MemberID) {
		return
	}
	now := s.clock.Now()
	delay := now.Sub(time.UnixMilli(st.Timestamp))
	if delay > s.cfg.StaleThreshold {
		log.Debug().Err(domain.ErrStaleEvent).Str("module", "client").Dur("delay", delay).Msg("sync state dropped")
		return
	}
	if delay < 0 {
		delay = 0
	}
	remote := st.CurrentTime
	if !st.Paused {
		rate := st.PlaybackRate
		if rate <= 0 {
			rate = 1
		}
		remote += delay.Seconds() * rate
	}
	local := s.player.CurrentTime()
	if math.Abs(remote-local) <= s.cfg.DriftThreshold.Seconds() {
		return
	}

	s.suppress()
	s.player.SetCurrentTime(remote)
	if st.PlaybackRate > 0 && st.PlaybackRate != s.player.PlaybackRate() {
		s.player.SetPlaybackRate(st.PlaybackRate)
	}
	if st.Paused != s.player.Paused() {
		if st.Paused {
			s.player.Pause()
		} else {
			s.player.Play()
		}
	}
	log.Info().Str("module", "client").Str("room", string(s.target.RoomID)).Float64("local", local).
		Float64("remote", remote).Bool("paused", st.Paused).Msg("drift corrected")
}
