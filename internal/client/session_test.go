package client

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VideoSync/internal/client/store"
	"github.com/dkeye/VideoSync/internal/domain"
	"github.com/dkeye/VideoSync/internal/protocol"
)

type harness struct {
	s      *Session
	clock  *fakeClock
	d      *fakeDialer
	player *VirtualPlayer
	st     *store.Memory
	rec    *recorder
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(),
		d:     newFakeDialer(),
		st:    store.NewMemory(),
		rec:   &recorder{},
	}
	h.player = NewVirtualPlayer(h.clock.Now)
	cfg := Config{MemberID: "user_a", DriftInterval: -1}
	if mutate != nil {
		mutate(&cfg)
	}
	h.s = New(cfg, h.d, h.player, WithClock(h.clock), WithStore(h.st), WithObserver(h.rec.observer()))
	h.s.Start(context.Background())
	t.Cleanup(h.s.Close)
	return h
}

func (h *harness) join() {
	h.s.Join(JoinRequest{ServerURL: "ws://relay.test/ws", APIKey: "k", RoomID: "ROOM01"})
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.s.Snapshot().State == want }, waitFor, time.Millisecond,
		"want %s, have %s", want, h.s.Snapshot().State)
}

// activate answers the next dial and walks the handshake to ACTIVE.
func (h *harness) activate(t *testing.T, users ...domain.Member) *fakeTransport {
	t.Helper()
	tr := h.d.next(t).accept()
	var auth protocol.Authenticate
	tr.expect(t, protocol.TypeAuthenticate, &auth)
	assert.Equal(t, "k", auth.APIKey)
	tr.deliver(protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: true})
	tr.expect(t, protocol.TypeJoinRoom, nil)
	if len(users) == 0 {
		users = []domain.Member{{ID: "user_a", Username: "guest"}}
	}
	tr.deliver(protocol.RoomJoined{Type: protocol.TypeRoomJoined, RoomID: "ROOM01", UserCount: len(users), Users: users})
	flush(t, h.s)
	require.Equal(t, StateActive, h.s.Snapshot().State)
	return tr
}

func (h *harness) remote(tr *fakeTransport, ev domain.PlaybackEvent) {
	data, _ := protocol.Raw(ev)
	tr.deliver(protocol.RemoteEvent{Type: protocol.TypeRemoteEvent, Data: data})
}

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(2*time.Second, 30*time.Second)
	var got []time.Duration
	for range 6 {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 2*time.Second, b.Next())
}

func TestSession_HandshakeReachesActive(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.activate(t, domain.Member{ID: "user_a"}, domain.Member{ID: "user_b"})

	snap := h.s.Snapshot()
	assert.Equal(t, domain.RoomID("ROOM01"), snap.Room)
	assert.Len(t, snap.Roster, 2)
	assert.Equal(t, 0, snap.Attempt)

	_, ok := h.st.Get("session")
	assert.True(t, ok, "active session is persisted for resume")
}

func TestSession_ReconnectBackoffSchedule(t *testing.T) {
	h := newHarness(t, nil)
	h.join()

	for i := 0; i < 6; i++ {
		h.d.next(t).fail()
		h.waitState(t, StateBackoff)
		delays := h.rec.backoffDelays()
		require.Len(t, delays, i+1)
		h.clock.Advance(delays[i])
		flush(t, h.s)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, h.rec.backoffDelays())
}

func TestSession_AbandonAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxAttempts = 3 })
	h.join()

	for i := 0; i < 3; i++ {
		h.d.next(t).fail()
		h.waitState(t, StateBackoff)
		h.clock.Advance(time.Minute)
		flush(t, h.s)
	}
	h.d.next(t).fail()
	h.waitState(t, StateAbandoned)

	assert.ErrorIs(t, h.rec.last().Reason, domain.ErrMaxAttempts)
	assert.Equal(t, 0, h.clock.pending())
	_, ok := h.st.Get("session")
	assert.False(t, ok)
	h.d.none(t)
}

func TestSession_AuthFailureAbandons(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.d.next(t).accept()
	tr.expect(t, protocol.TypeAuthenticate, nil)

	tr.deliver(protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: false, Message: "Invalid API key"})
	flush(t, h.s)

	assert.Equal(t, StateAbandoned, h.s.Snapshot().State)
	assert.ErrorIs(t, h.rec.last().Reason, domain.ErrAuthentication)
	assert.True(t, tr.isClosed())
	h.clock.Advance(time.Minute)
	h.d.none(t)
}

func TestSession_ActiveResetsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.d.next(t).fail()
	h.waitState(t, StateBackoff)
	h.clock.Advance(2 * time.Second)
	flush(t, h.s)

	tr := h.activate(t)
	assert.Equal(t, 0, h.s.Snapshot().Attempt)

	tr.serverClose()
	flush(t, h.s)
	assert.Equal(t, StateBackoff, h.s.Snapshot().State)
	delays := h.rec.backoffDelays()
	assert.Equal(t, 2*time.Second, delays[len(delays)-1], "backoff restarts from base after ACTIVE")
}

func TestSession_CloseInBackoffIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)

	tr.serverClose()
	tr.serverClose()
	flush(t, h.s)

	assert.Equal(t, StateBackoff, h.s.Snapshot().State)
	assert.Equal(t, 1, h.s.Snapshot().Attempt)
	assert.Equal(t, 1, h.clock.pending(), "exactly one backoff timer")
}

func TestSession_LeaveFromActive(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)

	h.s.Leave()
	flush(t, h.s)

	var leave protocol.LeaveRoom
	tr.expect(t, protocol.TypeLeaveRoom, &leave)
	assert.Equal(t, domain.RoomID("ROOM01"), leave.RoomID)
	assert.True(t, tr.isClosed())
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
	assert.Equal(t, 0, h.clock.pending())
	_, ok := h.st.Get("session")
	assert.False(t, ok)
}

func TestSession_LeaveWhileJoining(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.d.next(t).accept()
	tr.expect(t, protocol.TypeAuthenticate, nil)
	tr.deliver(protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: true})
	tr.expect(t, protocol.TypeJoinRoom, nil)
	flush(t, h.s)
	require.Equal(t, StateJoining, h.s.Snapshot().State)

	h.s.Leave()
	flush(t, h.s)

	var leave protocol.LeaveRoom
	tr.expect(t, protocol.TypeLeaveRoom, &leave)
	assert.Equal(t, domain.RoomID("ROOM01"), leave.RoomID)
	assert.Equal(t, domain.MemberID("user_a"), leave.UserID)
	assert.True(t, tr.isClosed())
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
}

func TestSession_JoinOtherRoomLeavesPrevious(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)

	h.s.Join(JoinRequest{ServerURL: "ws://relay.test/ws", APIKey: "k", RoomID: "ROOM02"})
	flush(t, h.s)

	var leave protocol.LeaveRoom
	tr.expect(t, protocol.TypeLeaveRoom, &leave)
	assert.Equal(t, domain.RoomID("ROOM01"), leave.RoomID)
	assert.True(t, tr.isClosed())
	h.d.next(t)
	assert.Equal(t, domain.RoomID("ROOM02"), h.s.Snapshot().Room)
}

func TestSession_RejoinSameRoomSendsNoLeave(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)

	h.join()
	flush(t, h.s)

	tr.drained(t)
	assert.True(t, tr.isClosed())
	h.d.next(t)
}

func TestSession_LeaveCancelsBackoff(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.d.next(t).fail()
	h.waitState(t, StateBackoff)
	require.Equal(t, 1, h.clock.pending())

	h.s.Leave()
	flush(t, h.s)

	assert.Equal(t, StateIdle, h.s.Snapshot().State)
	assert.Equal(t, 0, h.clock.pending())
	h.clock.Advance(time.Minute)
	flush(t, h.s)
	h.d.none(t)
}

func TestSession_LeaveInterruptsConnecting(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	req := h.d.next(t)

	h.s.Leave()
	flush(t, h.s)
	assert.Equal(t, StateIdle, h.s.Snapshot().State)

	// The canceled dial resolves later and must not revive the session.
	req.result <- dialResult{tr: &fakeTransport{h: req.h, sent: make(chan []byte, 1)}}
	time.Sleep(20 * time.Millisecond)
	flush(t, h.s)
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
	h.d.none(t)
}

func TestSession_HeartbeatClosesAfterMissedPongs(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)

	for i := 0; i < 2; i++ {
		h.clock.Advance(30 * time.Second)
		flush(t, h.s)
		tr.expect(t, protocol.TypePing, nil)
	}
	tr.deliver(protocol.Pong{Type: protocol.TypePong})
	flush(t, h.s)

	for i := 0; i < 3; i++ {
		h.clock.Advance(30 * time.Second)
		flush(t, h.s)
		tr.expect(t, protocol.TypePing, nil)
	}
	assert.Equal(t, StateActive, h.s.Snapshot().State, "pong reset the missed count")

	h.clock.Advance(30 * time.Second)
	flush(t, h.s)
	assert.True(t, tr.isClosed())
	assert.Equal(t, StateBackoff, h.s.Snapshot().State)
	assert.ErrorIs(t, h.rec.last().Reason, domain.ErrTransport)
}

func TestSession_StaleEventIsNotApplied(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)

	h.remote(tr, domain.PlaybackEvent{
		Action:      domain.ActionPlay,
		CurrentTime: 100,
		Timestamp:   h.clock.Now().Add(-6 * time.Second).UnixMilli(),
		UserID:      "user_b",
	})
	flush(t, h.s)

	assert.True(t, h.player.Paused())
	assert.Zero(t, h.player.CurrentTime())
	assert.Zero(t, h.rec.applied)
}

func TestSession_PlayCompensatesTransitDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)

	h.remote(tr, domain.PlaybackEvent{
		Action:      domain.ActionPlay,
		CurrentTime: 100,
		Timestamp:   h.clock.Now().Add(-1200 * time.Millisecond).UnixMilli(),
	})
	flush(t, h.s)

	assert.InDelta(t, 101.2, h.player.CurrentTime(), 1e-9)
	assert.False(t, h.player.Paused())
}

func TestSession_RemoteActions(t *testing.T) {
	tests := []struct {
		name   string
		ev     domain.PlaybackEvent
		pos    float64
		paused bool
		rate   float64
	}{
		{"pause seeks exactly", domain.PlaybackEvent{Action: domain.ActionPause, CurrentTime: 42}, 42, true, 1},
		{"seek keeps paused state", domain.PlaybackEvent{Action: domain.ActionSeek, CurrentTime: 10}, 10, true, 1},
		{"rate change has no seek", domain.PlaybackEvent{Action: domain.ActionRateChange, PlaybackRate: 1.5}, 0, true, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.join()
			tr := h.activate(t)

			tt.ev.Timestamp = h.clock.Now().Add(-500 * time.Millisecond).UnixMilli()
			h.remote(tr, tt.ev)
			flush(t, h.s)

			assert.InDelta(t, tt.pos, h.player.CurrentTime(), 1e-9)
			assert.Equal(t, tt.paused, h.player.Paused())
			assert.Equal(t, tt.rate, h.player.PlaybackRate())
		})
	}
}

func TestSession_EchoSuppressedInsideSettleWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)

	h.remote(tr, domain.PlaybackEvent{Action: domain.ActionPlay, CurrentTime: 5, Timestamp: h.clock.Now().UnixMilli()})
	flush(t, h.s)
	flush(t, h.s)
	tr.drained(t)

	// A notification inside the window is still an echo.
	h.clock.Advance(100 * time.Millisecond)
	h.player.SetCurrentTime(7)
	flush(t, h.s)
	tr.drained(t)

	h.clock.Advance(200 * time.Millisecond)
	flush(t, h.s)
	h.player.Pause()
	flush(t, h.s)

	var ev protocol.SyncEvent
	tr.expect(t, protocol.TypeSyncEvent, &ev)
	assert.Equal(t, domain.RoomID("ROOM01"), ev.RoomID)
	var pe domain.PlaybackEvent
	require.NoError(t, protocol.Decode(ev.Data, &pe))
	assert.Equal(t, domain.ActionPause, pe.Action)
	assert.Equal(t, "user_a", pe.UserID)
}

func TestSession_LocalEventDroppedWhenNotActive(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)
	tr.serverClose()
	flush(t, h.s)

	h.player.Play()
	flush(t, h.s)

	h.clock.Advance(2 * time.Second)
	flush(t, h.s)
	next := h.d.next(t).accept()
	next.expect(t, protocol.TypeAuthenticate, nil)
	flush(t, h.s)
	next.drained(t)
}

func TestSession_RespondsToSyncRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	tr := h.activate(t)
	h.player.SetCurrentTime(33)
	flush(t, h.s)
	tr.expect(t, protocol.TypeSyncEvent, nil)

	tr.deliver(protocol.SyncRequest{Type: protocol.TypeSyncRequest, RequesterID: "user_b"})
	flush(t, h.s)

	var resp protocol.SyncResponse
	tr.expect(t, protocol.TypeSyncResponse, &resp)
	assert.Equal(t, domain.RoomID("ROOM01"), resp.RoomID)
	var st domain.PlaybackState
	require.NoError(t, protocol.Decode(resp.Data, &st))
	assert.Equal(t, "user_b", st.TargetUserID)
	assert.InDelta(t, 33, st.CurrentTime, 1e-9)
	assert.True(t, st.Paused)
}

func TestSession_DriftCorrection(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DriftInterval = 5 * time.Second })
	h.join()
	tr := h.activate(t, domain.Member{ID: "user_a"}, domain.Member{ID: "user_b"})

	h.clock.Advance(5 * time.Second)
	flush(t, h.s)
	tr.expect(t, protocol.TypeRequestSync, nil)

	state := func(pos float64) {
		data, _ := protocol.Raw(domain.PlaybackState{
			TargetUserID: "user_a", CurrentTime: pos, Paused: true, PlaybackRate: 1, Timestamp: h.clock.Now().UnixMilli(),
		})
		tr.deliver(protocol.SyncState{Type: protocol.TypeSyncState, Data: data})
		flush(t, h.s)
		flush(t, h.s)
	}

	state(50)
	assert.InDelta(t, 50, h.player.CurrentTime(), 1e-9)
	tr.drained(t)

	state(50.4)
	assert.InDelta(t, 50, h.player.CurrentTime(), 1e-9, "difference under threshold is left alone")
}

func TestSession_CreateSendsMetadata(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Username = "alice" })
	id := h.s.Create(CreateRequest{
		ServerURL: "ws://relay.test/ws",
		APIKey:    "k",
		Metadata:  domain.JoinMetadata{URL: "https://video.test/1", Title: "Film"},
	})
	assert.Len(t, string(id), domain.RoomIDLen)

	tr := h.d.next(t).accept()
	tr.expect(t, protocol.TypeAuthenticate, nil)
	tr.deliver(protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: true})
	var join protocol.JoinRoom
	tr.expect(t, protocol.TypeJoinRoom, &join)
	assert.Equal(t, id, join.RoomID)
	assert.Equal(t, domain.MemberID("user_a"), join.UserID)
	require.NotNil(t, join.Metadata)
	assert.Equal(t, "https://video.test/1", join.Metadata.URL)
	assert.Equal(t, "alice", join.Metadata.Username)
}

func TestResume(t *testing.T) {
	st := store.NewMemory()
	now := time.UnixMilli(1_700_000_000_000)

	_, ok := resumeAt(st, time.Minute, now)
	assert.False(t, ok)

	require.NoError(t, st.Set("session", `{"roomId":"ROOM01","serverUrl":"ws://relay/ws","apiKey":"k","lastActive":`+
		strconv.FormatInt(now.Add(-30*time.Second).UnixMilli(), 10)+`}`))
	req, ok := resumeAt(st, time.Minute, now)
	require.True(t, ok)
	assert.Equal(t, JoinRequest{ServerURL: "ws://relay/ws", APIKey: "k", RoomID: "ROOM01"}, req)

	_, ok = resumeAt(st, time.Minute, now.Add(time.Minute))
	assert.False(t, ok, "older than the window")

	require.NoError(t, st.Set("session", "garbage"))
	_, ok = resumeAt(st, time.Minute, now)
	assert.False(t, ok)
	_, ok = st.Get("session")
	assert.False(t, ok)
}

func TestMemberID_Stable(t *testing.T) {
	st := store.NewMemory()
	a, err := MemberID(st)
	require.NoError(t, err)
	assert.True(t, a.Valid())
	b, err := MemberID(st)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
