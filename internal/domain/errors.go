// Package domain contains entities without transport logic, just meta-data
// and the error taxonomy shared by server and client.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is fatal to the connection and not retryable with the same credential.
	ErrAuthentication = errors.New("authentication failed")
	// ErrProtocolSequence covers messages before authentication and actions on a room the connection never joined.
	ErrProtocolSequence = errors.New("protocol sequence violation")
	// ErrTransport is a network failure. Retryable by the client, a drop for the server.
	ErrTransport = errors.New("transport failure")
	// ErrStaleEvent marks a remote event older than the stale threshold. Never surfaced to the user.
	ErrStaleEvent = errors.New("stale event")

	ErrRoomNotJoined = fmt.Errorf("%w: room not joined", ErrProtocolSequence)
	ErrNotAuthorized = fmt.Errorf("%w: not authenticated", ErrProtocolSequence)
	ErrBadPayload    = errors.New("bad payload")
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrInvalidMember = errors.New("invalid member id")
	ErrMaxAttempts   = errors.New("max reconnect attempts reached")
)

// DeliveryFailure is a failed write to one peer during a fan-out.
// It is collected, never returned as the broadcast's error.
type DeliveryFailure struct {
	Member MemberID
	Conn   string
	Err    error
}

func (f DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery to %s (conn %s) failed: %v", f.Member, f.Conn, f.Err)
}

func (f DeliveryFailure) Unwrap() error { return f.Err }
