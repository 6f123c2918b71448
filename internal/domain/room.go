package domain

import (
	"math/rand/v2"
	"strings"
)

const (
	RoomIDLen      = 6
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	MaxRoomIDLen   = 64
)

type RoomID string

// RoomMetadata is captured from the first member's join and never changes.
type RoomMetadata struct {
	CreatorID MemberID `json:"creatorId"`
	CreatedAt int64    `json:"createdAt"`
	Username  string   `json:"username,omitempty"`
	URL       string   `json:"url,omitempty"`
	Title     string   `json:"title,omitempty"`
	Platform  string   `json:"platform,omitempty"`
}

// JoinMetadata is what a joiner may offer; only the first joiner's is kept.
type JoinMetadata struct {
	Username string `json:"username,omitempty"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// NewRoomID draws a 6 character code uniformly from [A-Z0-9].
// Collisions are not checked: creating on top of an existing code joins it.
func NewRoomID() RoomID {
	var b strings.Builder
	b.Grow(RoomIDLen)
	for range RoomIDLen {
		b.WriteByte(roomIDAlphabet[rand.IntN(len(roomIDAlphabet))])
	}
	return RoomID(b.String())
}

func (id RoomID) Valid() bool {
	return id != "" && len(id) <= MaxRoomIDLen
}
