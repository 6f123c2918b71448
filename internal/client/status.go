package client

import (
	"fmt"
	"time"

	"github.com/dkeye/VideoSync/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateJoining
	StateActive
	StateBackoff
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateJoining:
		return "JOINING"
	case StateActive:
		return "ACTIVE"
	case StateBackoff:
		return "BACKOFF"
	case StateAbandoned:
		return "ABANDONED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is reported to the observer on every state change.
type Status struct {
	State   State
	Room    domain.RoomID
	Attempt int
	Max     int
	// Delay is set in BACKOFF.
	Delay time.Duration
	// Reason is set when a transport was lost or the session was abandoned.
	Reason error
}

func (s Status) String() string {
	switch s.State {
	case StateActive:
		return fmt.Sprintf("connected to %s", s.Room)
	case StateBackoff:
		return fmt.Sprintf("reconnecting in %ds (%d/%d)", int(s.Delay.Round(time.Second)/time.Second), s.Attempt, s.Max)
	case StateAbandoned:
		if s.Reason != nil {
			return fmt.Sprintf("abandoned: %v", s.Reason)
		}
		return "abandoned"
	case StateIdle:
		return "disconnected"
	}
	return s.State.String()
}

// Observer callbacks run on the session goroutine and must not block.
type Observer struct {
	OnStatus        func(Status)
	OnRoster        func([]domain.Member)
	OnRemoteApplied func(domain.PlaybackEvent)
	OnServerError   func(msg string)
}

// Snapshot is a copy of the session state safe to read from any goroutine.
type Snapshot struct {
	State    State
	Room     domain.RoomID
	Member   domain.MemberID
	Attempt  int
	Roster   []domain.Member
	Metadata *domain.RoomMetadata
}
