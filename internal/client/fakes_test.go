package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/VideoSync/internal/domain"
	"github.com/dkeye/VideoSync/internal/protocol"
)

const waitFor = 2 * time.Second

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in order on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		t := due[0]
		t.fired = true
		c.now = t.at
		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type dialResult struct {
	tr  Transport
	err error
}

type dialReq struct {
	url    string
	h      Handler
	result chan dialResult
}

type fakeDialer struct {
	reqs chan *dialReq
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{reqs: make(chan *dialReq, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, h Handler) (Transport, error) {
	r := &dialReq{url: url, h: h, result: make(chan dialResult, 1)}
	d.reqs <- r
	select {
	case res := <-r.result:
		return res.tr, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) next(t *testing.T) *dialReq {
	t.Helper()
	select {
	case r := <-d.reqs:
		return r
	case <-time.After(waitFor):
		t.Fatal("no dial attempt")
		return nil
	}
}

func (d *fakeDialer) none(t *testing.T) {
	t.Helper()
	select {
	case r := <-d.reqs:
		t.Fatalf("unexpected dial to %s", r.url)
	case <-time.After(50 * time.Millisecond):
	}
}

func (r *dialReq) accept() *fakeTransport {
	tr := &fakeTransport{h: r.h, sent: make(chan []byte, 64)}
	r.result <- dialResult{tr: tr}
	return tr
}

func (r *dialReq) fail() {
	r.result <- dialResult{err: errors.New("connection refused")}
}

type fakeTransport struct {
	h    Handler
	sent chan []byte

	mu     sync.Mutex
	closed bool
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent <- b
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) deliver(v any) {
	f.h.OnMessage(protocol.MustEncode(v))
}

func (f *fakeTransport) serverClose() {
	f.h.OnClose(errors.New("connection reset"))
}

// expect waits for the next outbound frame and checks its type.
func (f *fakeTransport) expect(t *testing.T, typ string, v any) {
	t.Helper()
	select {
	case b := <-f.sent:
		got, err := protocol.PeekType(b)
		require.NoError(t, err)
		require.Equal(t, typ, got, "frame: %s", b)
		if v != nil {
			require.NoError(t, protocol.Decode(b, v))
		}
	case <-time.After(waitFor):
		t.Fatalf("no %s frame sent", typ)
	}
}

// drained asserts nothing else was sent. Call after flush.
func (f *fakeTransport) drained(t *testing.T) {
	t.Helper()
	select {
	case b := <-f.sent:
		t.Fatalf("unexpected frame %s", b)
	default:
	}
}

// flush waits until every event queued so far has been processed.
func flush(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	s.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("session loop stuck")
	}
}

type recorder struct {
	mu       sync.Mutex
	statuses []Status
	applied  int
}

func (r *recorder) observer() Observer {
	return Observer{
		OnStatus: func(st Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, st)
			r.mu.Unlock()
		},
		OnRemoteApplied: func(_ domain.PlaybackEvent) {
			r.mu.Lock()
			r.applied++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) backoffDelays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Duration
	for _, st := range r.statuses {
		if st.State == StateBackoff {
			out = append(out, st.Delay)
		}
	}
	return out
}

func (r *recorder) last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[len(r.statuses)-1]
}
