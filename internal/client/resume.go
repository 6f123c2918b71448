package client

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/client/store"
	"github.com/dkeye/VideoSync/internal/domain"
)

const (
	keyMemberID = "userId"
	keySession  = "session"

	DefaultResumeWindow = time.Minute
)

// ResumeState is what survives a restart of an active session.
type ResumeState struct {
	RoomID     domain.RoomID `json:"roomId"`
	ServerURL  string        `json:"serverUrl"`
	APIKey     string        `json:"apiKey"`
	LastActive int64         `json:"lastActive"`
}

// MemberID returns the installation's member id, generating and persisting
// it on first use.
func MemberID(st store.Store) (domain.MemberID, error) {
	if v, ok := st.Get(keyMemberID); ok && domain.MemberID(v).Valid() {
		return domain.MemberID(v), nil
	}
	id := domain.NewMemberID()
	if err := st.Set(keyMemberID, string(id)); err != nil {
		return "", err
	}
	return id, nil
}

// Resume returns the persisted session if it was active within window.
func Resume(st store.Store, window time.Duration) (JoinRequest, bool) {
	return resumeAt(st, window, time.Now())
}

func resumeAt(st store.Store, window time.Duration, now time.Time) (JoinRequest, bool) {
	raw, ok := st.Get(keySession)
	if !ok {
		return JoinRequest{}, false
	}
	var rs ResumeState
	if err := json.Unmarshal([]byte(raw), &rs); err != nil || rs.RoomID == "" || rs.ServerURL == "" {
		log.Warn().Err(err).Str("module", "client").Msg("discarding unreadable resume state")
		_ = st.Remove(keySession)
		return JoinRequest{}, false
	}
	age := now.Sub(time.UnixMilli(rs.LastActive))
	if age > window {
		log.Info().Str("module", "client").Str("room", string(rs.RoomID)).Dur("age", age).Msg("resume state too old")
		return JoinRequest{}, false
	}
	return JoinRequest{ServerURL: rs.ServerURL, APIKey: rs.APIKey, RoomID: rs.RoomID}, true
}

func (s *Session) saveResume() {
	if s.store == nil {
		return
	}
	b, err := json.Marshal(ResumeState{
		RoomID:     s.target.RoomID,
		ServerURL:  s.target.ServerURL,
		APIKey:     s.target.APIKey,
		LastActive: s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := s.store.Set(keySession, string(b)); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("persist session")
	}
}

// touchResume refreshes lastActive while the session is alive.
func (s *Session) touchResume() { s.saveResume() }

func (s *Session) clearResume() {
	if s.store == nil {
		return
	}
	if err := s.store.Remove(keySession); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("clear session")
	}
}
