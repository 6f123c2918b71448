// Package client keeps one logical room membership alive across any number
// of websocket connections. All state lives on a single event loop:
// transport events, timers and user actions are processed one at a time.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoSync/internal/client/store"
	"github.com/dkeye/VideoSync/internal/domain"
	"github.com/dkeye/VideoSync/internal/protocol"
)

type Config struct {
	MemberID domain.MemberID
	Username string

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	DialTimeout time.Duration

	HeartbeatInterval time.Duration
	MaxMissedPongs    int

	StaleThreshold time.Duration
	SettleWindow   time.Duration

	// DriftInterval < 0 disables drift correction.
	DriftInterval  time.Duration
	DriftThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = 3
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 5 * time.Second
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = 200 * time.Millisecond
	}
	if c.DriftInterval == 0 {
		c.DriftInterval = 5 * time.Second
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = time.Second
	}
	return c
}

// JoinRequest names the room and where to reach it.
type JoinRequest struct {
	ServerURL string
	APIKey    string
	RoomID    domain.RoomID
}

// CreateRequest is a join on a freshly drawn room code that carries the
// room's descriptive metadata.
type CreateRequest struct {
	ServerURL string
	APIKey    string
	Metadata  domain.JoinMetadata
}

type Option func(*Session)

func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

func WithStore(st store.Store) Option { return func(s *Session) { s.store = st } }

func WithObserver(o Observer) Option { return func(s *Session) { s.obs = o } }

type Session struct {
	cfg    Config
	dialer Dialer
	player Player
	clock  Clock
	store  store.Store
	obs    Observer

	q      *queue
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once

	snapMu sync.Mutex
	snap   Snapshot

	// Loop-owned from here on.
	state    State
	desired  bool
	target   JoinRequest
	meta     *domain.JoinMetadata
	creating bool

	tr         Transport
	gen        uint64
	dialCancel context.CancelFunc

	attempt int
	backoff *Backoff
	missed  int

	applyingRemote bool
	roster         []domain.Member
	roomMeta       *domain.RoomMetadata

	backoffT   timerSlot
	heartbeatT timerSlot
	driftT     timerSlot
	settleT    timerSlot
}

// New builds a session. player may be nil for a relay-only participant.
func New(cfg Config, dialer Dialer, player Player, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:     cfg,
		dialer:  dialer,
		player:  player,
		clock:   realClock{},
		q:       newQueue(),
		done:    make(chan struct{}),
		backoff: NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
	}
	for _, o := range opts {
		o(s)
	}
	if n, ok := player.(Notifier); ok {
		n.OnChange(s.NotifyLocal)
	}
	s.publish()
	return s
}

// Start runs the event loop until ctx is done or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.start.Do(func() {
		s.ctx, s.cancel = context.WithCancel(ctx)
		go s.run()
	})
}

// Close stops the loop, dropping any transport without sending leave-room.
func (s *Session) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Session) Join(req JoinRequest) {
	s.post(func() { s.join(req, nil, false) })
}

// Create draws a new room code and joins it with metadata.
func (s *Session) Create(req CreateRequest) domain.RoomID {
	id := domain.NewRoomID()
	meta := req.Metadata
	if meta.Username == "" {
		meta.Username = s.cfg.Username
	}
	s.post(func() {
		s.join(JoinRequest{ServerURL: req.ServerURL, APIKey: req.APIKey, RoomID: id}, &meta, true)
	})
	return id
}

func (s *Session) Leave() {
	s.post(s.leave)
}

// NotifyLocal reports a genuine local player change.
func (s *Session) NotifyLocal(a domain.Action) {
	s.post(func() { s.emitLocal(a) })
}

func (s *Session) Snapshot() Snapshot {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	snap := s.snap
	snap.Roster = append([]domain.Member(nil), s.snap.Roster...)
	return snap
}

func (s *Session) post(fn func()) { s.q.push(fn) }

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			s.publish()
			log.Debug().Str("module", "client").Msg("session loop stopped")
			return
		case <-s.q.wake:
		}
		for {
			fn := s.q.pop()
			if fn == nil {
				break
			}
			fn()
			s.publish()
		}
	}
}

func (s *Session) publish() {
	s.snapMu.Lock()
	s.snap = Snapshot{
		State:    s.state,
		Room:     s.target.RoomID,
		Member:   s.cfg.MemberID,
		Attempt:  s.attempt,
		Roster:   s.roster,
		Metadata: s.roomMeta,
	}
	s.snapMu.Unlock()
}

func (s *Session) setState(st State, reason error, delay time.Duration) {
	prev := s.state
	s.state = st
	l := log.Info()
	if st == StateBackoff || st == StateAbandoned {
		l = log.Warn()
	}
	l.Str("module", "client").Str("room", string(s.target.RoomID)).Str("member", string(s.cfg.MemberID)).
		Stringer("from", prev).Stringer("to", st).Int("attempt", s.attempt).AnErr("reason", reason).Msg("state change")
	if s.obs.OnStatus != nil {
		s.obs.OnStatus(Status{
			State:   st,
			Room:    s.target.RoomID,
			Attempt: s.attempt,
			Max:     s.cfg.MaxAttempts,
			Delay:   delay,
			Reason:  reason,
		})
	}
}

func (s *Session) join(req JoinRequest, meta *domain.JoinMetadata, creating bool) {
	if req.RoomID != s.target.RoomID || req.ServerURL != s.target.ServerURL {
		s.sendLeave()
	}
	s.teardown()
	s.target = req
	s.meta = meta
	s.creating = creating
	s.desired = true
	s.attempt = 0
	s.backoff.Reset()
	s.roster, s.roomMeta = nil, nil
	s.saveResume()
	s.connect()
}

func (s *Session) connect() {
	if !s.desired {
		return
	}
	s.setState(StateConnecting, nil, 0)
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	s.dialCancel = cancel
	url := s.target.ServerURL
	h := Handler{
		OnMessage: func(b []byte) { s.post(func() { s.onMessage(gen, b) }) },
		OnClose:   func(err error) { s.post(func() { s.onClose(gen, err) }) },
	}
	go func() {
		tr, err := s.dialer.Dial(ctx, url, h)
		s.post(func() { s.onDialed(gen, tr, err) })
	}()
}

func (s *Session) onDialed(gen uint64, tr Transport, err error) {
	if gen != s.gen || s.state != StateConnecting {
		if tr != nil {
			_ = tr.Close()
		}
		return
	}
	s.stopDial()
	if err != nil {
		s.transportLost(fmt.Errorf("%w: dial: %v", domain.ErrTransport, err))
		return
	}
	s.tr = tr
	s.setState(StateAuthenticating, nil, 0)
	s.send(protocol.Authenticate{Type: protocol.TypeAuthenticate, APIKey: s.target.APIKey})
}

func (s *Session) onClose(gen uint64, err error) {
	if gen != s.gen {
		return
	}
	s.transportLost(fmt.Errorf("%w: %v", domain.ErrTransport, err))
}

// transportLost drops the current transport and schedules a reconnect while
// membership is still desired. A loss seen in BACKOFF is a no-op.
func (s *Session) transportLost(reason error) {
	s.dropTransport()
	if !s.desired {
		return
	}
	switch s.state {
	case StateBackoff, StateIdle, StateAbandoned:
		return
	}
	if s.attempt >= s.cfg.MaxAttempts {
		s.abandon(fmt.Errorf("%w (%d): %v", domain.ErrMaxAttempts, s.attempt, reason))
		return
	}
	s.attempt++
	delay := s.backoff.Next()
	s.setState(StateBackoff, reason, delay)
	s.arm(&s.backoffT, delay, func() {
		if s.state == StateBackoff {
			s.connect()
		}
	})
}

func (s *Session) onMessage(gen uint64, data []byte) {
	if gen != s.gen {
		return
	}
	typ, err := protocol.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad frame from server")
		return
	}
	switch typ {
	case protocol.TypeAuthenticated:
		s.onAuthenticated(data)
	case protocol.TypeRoomJoined:
		s.onRoomJoined(data)
	case protocol.TypeUserList:
		var m protocol.UserList
		if protocol.Decode(data, &m) == nil {
			s.setRoster(m.Users)
		}
	case protocol.TypeRemoteEvent:
		var m protocol.RemoteEvent
		if protocol.Decode(data, &m) == nil {
			s.applyRemote(m.Data)
		}
	case protocol.TypeSyncRequest:
		var m protocol.SyncRequest
		if protocol.Decode(data, &m) == nil {
			s.respondSync(m)
		}
	case protocol.TypeSyncState:
		var m protocol.SyncState
		if protocol.Decode(data, &m) == nil {
			s.applyState(m.Data)
		}
	case protocol.TypePong:
		s.missed = 0
	case protocol.TypeError:
		var m protocol.Error
		_ = protocol.Decode(data, &m)
		log.Warn().Str("module", "client").Str("room", string(s.target.RoomID)).Str("message", m.Message).Msg("server error")
		if s.obs.OnServerError != nil {
			s.obs.OnServerError(m.Message)
		}
	default:
		log.Debug().Str("module", "client").Str("type", typ).Msg("ignored frame")
	}
}

func (s *Session) onAuthenticated(data []byte) {
	if s.state != StateAuthenticating {
		return
	}
	var m protocol.Authenticated
	if err := protocol.Decode(data, &m); err != nil || !m.Success {
		// A bad key does not become good by retrying.
		s.abandon(fmt.Errorf("%w: %s", domain.ErrAuthentication, m.Message))
		return
	}
	s.setState(StateJoining, nil, 0)
	join := protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomID: s.target.RoomID, UserID: s.cfg.MemberID}
	switch {
	case s.creating && s.meta != nil:
		join.Metadata = s.meta
	case s.cfg.Username != "":
		join.Metadata = &domain.JoinMetadata{Username: s.cfg.Username}
	}
	s.send(join)
}

func (s *Session) onRoomJoined(data []byte) {
	if s.state != StateJoining {
		return
	}
	var m protocol.RoomJoined
	if err := protocol.Decode(data, &m); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad room-joined")
		return
	}
	s.attempt = 0
	s.backoff.Reset()
	s.creating = false
	s.roomMeta = m.Metadata
	s.setState(StateActive, nil, 0)
	s.setRoster(m.Users)
	s.touchResume()
	s.startHeartbeat()
	s.startDrift()
}

func (s *Session) setRoster(users []domain.Member) {
	s.roster = users
	if s.obs.OnRoster != nil {
		s.obs.OnRoster(append([]domain.Member(nil), users...))
	}
}

func (s *Session) leave() {
	s.sendLeave()
	s.desired = false
	s.teardown()
	s.attempt = 0
	s.roster, s.roomMeta = nil, nil
	s.clearResume()
	s.setState(StateIdle, nil, 0)
}

// sendLeave tells the server the member is gone for good once join-room may
// have reached it, so peers do not keep a disconnected member around.
func (s *Session) sendLeave() {
	if s.tr == nil {
		return
	}
	switch s.state {
	case StateJoining, StateActive:
		s.send(protocol.LeaveRoom{Type: protocol.TypeLeaveRoom, RoomID: s.target.RoomID, UserID: s.cfg.MemberID})
	}
}

func (s *Session) abandon(reason error) {
	s.desired = false
	s.teardown()
	s.clearResume()
	s.setState(StateAbandoned, reason, 0)
}

func (s *Session) stopDial() {
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
}

// dropTransport invalidates every in-flight event of the current transport.
func (s *Session) dropTransport() {
	s.gen++
	s.stopDial()
	s.disarm(&s.heartbeatT)
	s.disarm(&s.driftT)
	if s.tr != nil {
		_ = s.tr.Close()
		s.tr = nil
	}
}

// teardown leaves no transport, dial or timer behind.
func (s *Session) teardown() {
	s.dropTransport()
	s.disarm(&s.backoffT)
	s.disarm(&s.settleT)
	s.applyingRemote = false
}

func (s *Session) send(v any) {
	if s.tr == nil {
		return
	}
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("encode")
		return
	}
	if err := s.tr.Send(b); err != nil {
		// The reader sees the same failure and reports the close.
		log.Debug().Err(err).Str("module", "client").Msg("send failed")
	}
}

func (s *Session) startHeartbeat() {
	s.missed = 0
	s.arm(&s.heartbeatT, s.cfg.HeartbeatInterval, s.heartbeat)
}

// heartbeat closes the transport itself once MaxMissedPongs pings went
// unanswered instead of waiting for the network timeout.
func (s *Session) heartbeat() {
	if s.state != StateActive || s.tr == nil {
		return
	}
	if s.missed >= s.cfg.MaxMissedPongs {
		log.Warn().Str("module", "client").Str("room", string(s.target.RoomID)).Int("missed", s.missed).Msg("heartbeat timeout")
		s.transportLost(fmt.Errorf("%w: %d pings unanswered", domain.ErrTransport, s.missed))
		return
	}
	s.send(protocol.Ping{Type: protocol.TypePing, Timestamp: s.clock.Now().UnixMilli()})
	s.missed++
	s.touchResume()
	s.arm(&s.heartbeatT, s.cfg.HeartbeatInterval, s.heartbeat)
}

// timerSlot holds at most one outstanding timer. seq discards callbacks
// that were already queued when the slot was disarmed.
type timerSlot struct {
	t   Timer
	seq uint64
}

func (s *Session) arm(slot *timerSlot, d time.Duration, fn func()) {
	s.disarm(slot)
	seq := slot.seq
	slot.t = s.clock.AfterFunc(d, func() {
		s.post(func() {
			if slot.seq != seq {
				return
			}
			slot.t = nil
			slot.seq++
			fn()
		})
	})
}

func (s *Session) disarm(slot *timerSlot) {
	if slot.t != nil {
		slot.t.Stop()
		slot.t = nil
	}
	slot.seq++
}

// queue is unbounded so callbacks running on the loop can post to it.
type queue struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) pop() func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn
}
