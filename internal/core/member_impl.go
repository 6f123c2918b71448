package core

import "github.com/dkeye/VideoSync/internal/domain"

const defaultUsername = "guest"

// memberEntry is one element of a room's member set.
// A member without a live connection is present but disconnected.
type memberEntry struct {
	id       domain.MemberID
	username string
	live     *Connection
}

func (m *memberEntry) view(meta *domain.RoomMetadata) domain.Member {
	name := m.username
	if name == "" {
		name = defaultUsername
	}
	return domain.Member{
		ID:       m.id,
		Username: name,
		Creator:  meta != nil && meta.CreatorID == m.id,
	}
}
