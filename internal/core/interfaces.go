package core

import (
	"sync"

	"github.com/dkeye/VideoSync/internal/domain"
)

// Frame is one encoded protocol message.
type Frame []byte

// SignalConnection abstracts the messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking.
	TrySend(Frame) error
	Close()
}

type ConnID string

type AuthState int32

const (
	Unauthenticated AuthState = iota
	Authenticated
)

func (s AuthState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Connection is the explicit per-transport record passed through every
// handler call. The member/room binding is set at join time.
type Connection struct {
	ID     ConnID
	Signal SignalConnection
	// Token is the client token from the HTTP session, log-only.
	Token string

	mu     sync.Mutex
	auth   AuthState
	member domain.MemberID
	room   domain.RoomID
}

func NewConnection(id ConnID, sig SignalConnection) *Connection {
	return &Connection{ID: id, Signal: sig}
}

func (c *Connection) Auth() AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

func (c *Connection) SetAuth(s AuthState) {
	c.mu.Lock()
	c.auth = s
	c.mu.Unlock()
}

// Bind records which member this connection speaks for in which room.
func (c *Connection) Bind(room domain.RoomID, member domain.MemberID) {
	c.mu.Lock()
	c.room, c.member = room, member
	c.mu.Unlock()
}

func (c *Connection) Unbind() {
	c.mu.Lock()
	c.room, c.member = "", ""
	c.mu.Unlock()
}

// Binding returns the joined room and member, ok=false before join.
func (c *Connection) Binding() (domain.RoomID, domain.MemberID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.member, c.room != ""
}

func (c *Connection) TrySend(f Frame) error {
	return c.Signal.TrySend(f)
}
