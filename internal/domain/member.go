package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	MaxMemberIDLen = 64
	MaxUsernameLen = 36
)

type MemberID string

// Member is a roster entry: a stable participant identity as seen by peers.
// No transport or lifecycle logic here.
type Member struct {
	ID       MemberID `json:"id"`
	Username string   `json:"username"`
	Creator  bool     `json:"isCreator"`
}

// NewMemberID generates the per-installation identity a client persists once.
func NewMemberID() MemberID {
	return MemberID("user_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Valid reports whether id can be used as a member key.
func (id MemberID) Valid() bool {
	return id != "" && len(id) <= MaxMemberIDLen
}

// SanitizeUsername trims and clips a display name.
func SanitizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > MaxUsernameLen {
		name = name[:MaxUsernameLen]
	}
	return name
}
