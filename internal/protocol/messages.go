// Package protocol defines the JSON frames exchanged between sync clients and
// the relay. One message per WebSocket text frame.
package protocol

import (
	"github.com/goccy/go-json"

	"github.com/dkeye/VideoSync/internal/domain"
)

const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeJoinRoom      = "join-room"
	TypeRoomJoined    = "room-joined"
	TypeLeaveRoom     = "leave-room"
	TypeUserList      = "user-list"
	TypeSyncEvent     = "sync-event"
	TypeRemoteEvent   = "remote-event"
	TypeRequestSync   = "request-sync"
	TypeSyncRequest   = "sync-request"
	TypeSyncResponse  = "sync-response"
	TypeSyncState     = "sync-state"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
)

// Inbound reports whether typ is a frame a client may send.
func Inbound(typ string) bool {
	switch typ {
	case TypeAuthenticate, TypeJoinRoom, TypeLeaveRoom, TypeSyncEvent,
		TypeRequestSync, TypeSyncResponse, TypePing:
		return true
	}
	return false
}

type Envelope struct {
	Type string `json:"type"`
}

type Authenticate struct {
	Type   string `json:"type"`
	APIKey string `json:"apiKey"`
}

type Authenticated struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type JoinRoom struct {
	Type     string               `json:"type"`
	RoomID   domain.RoomID        `json:"roomId"`
	UserID   domain.MemberID      `json:"userId"`
	Metadata *domain.JoinMetadata `json:"metadata,omitempty"`
}

type RoomJoined struct {
	Type      string               `json:"type"`
	RoomID    domain.RoomID        `json:"roomId"`
	UserCount int                  `json:"userCount"`
	Users     []domain.Member      `json:"users"`
	Metadata  *domain.RoomMetadata `json:"metadata"`
}

type LeaveRoom struct {
	Type   string          `json:"type"`
	RoomID domain.RoomID   `json:"roomId"`
	UserID domain.MemberID `json:"userId"`
}

type UserList struct {
	Type  string          `json:"type"`
	Count int             `json:"count"`
	Users []domain.Member `json:"users"`
}

// SyncEvent carries a domain.PlaybackEvent in Data. The relay forwards Data untouched.
type SyncEvent struct {
	Type   string          `json:"type"`
	RoomID domain.RoomID   `json:"roomId"`
	UserID domain.MemberID `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

type RemoteEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type RequestSync struct {
	Type   string          `json:"type"`
	RoomID domain.RoomID   `json:"roomId"`
	UserID domain.MemberID `json:"userId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type SyncRequest struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	RequesterID domain.MemberID `json:"requesterId"`
}

// SyncResponse Data must contain targetUserId; the rest is opaque to the relay.
type SyncResponse struct {
	Type   string          `json:"type"`
	RoomID domain.RoomID   `json:"roomId"`
	Data   json.RawMessage `json:"data"`
}

type SyncState struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
