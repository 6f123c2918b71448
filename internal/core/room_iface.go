package core

import (
	"time"

	"github.com/dkeye/VideoSync/internal/domain"
)

// JoinResult is what the joiner receives; Roster is also what peers get.
type JoinResult struct {
	Roster   []domain.Member
	Metadata *domain.RoomMetadata
	Created  bool
	// Replaced is the member's previous live connection, if any. It must be
	// treated as a disconnected duplicate and closed by the caller.
	Replaced *Connection
}

// LeaveResult reports whether the member was present and whether the room
// was deleted because its member set became empty.
type LeaveResult struct {
	Found       bool
	RoomRemoved bool
	Roster      []domain.Member
}

// PublishResult reports delivery stats to the orchestrator.
type PublishResult struct {
	SentTo   int
	Failures []domain.DeliveryFailure
}

type RoomInfo struct {
	ID           domain.RoomID `json:"id"`
	MemberCount  int           `json:"memberCount"`
	LiveCount    int           `json:"liveCount"`
	LastActivity time.Time     `json:"lastActivity"`
	CreatedAt    int64         `json:"createdAt,omitempty"`
}

// RoomSnapshot is a consistent copy of one room's state.
type RoomSnapshot struct {
	ID           domain.RoomID
	Members      []domain.Member
	Live         map[domain.MemberID]ConnID
	Metadata     *domain.RoomMetadata
	LastActivity time.Time
}
