package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler receives transport events. Both callbacks run on the transport's
// reader goroutine; OnClose is called exactly once.
type Handler struct {
	OnMessage func([]byte)
	OnClose   func(error)
}

type Transport interface {
	Send(frame []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, h Handler) (Transport, error)
}

// WSDialer opens gorilla websocket transports.
type WSDialer struct {
	Dialer    *websocket.Dialer
	WriteWait time.Duration
}

func (d WSDialer) Dial(ctx context.Context, url string, h Handler) (Transport, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	conn, _, err := wd.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	ww := d.WriteWait
	if ww <= 0 {
		ww = 5 * time.Second
	}
	t := &wsTransport{conn: conn, writeWait: ww}
	go t.readLoop(h)
	return t, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
}

func (t *wsTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return websocket.ErrCloseSent
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(t.writeWait))
	return t.conn.Close()
}

func (t *wsTransport) readLoop(h Handler) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client.transport").Msg("read loop done")
			_ = t.Close()
			h.OnClose(err)
			return
		}
		h.OnMessage(data)
	}
}
