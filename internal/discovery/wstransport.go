package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// subscribeFrame is sent once on every successful connect, per spec §1's
// "a WebSocket-style endpoint accepting a single subscribe frame"
// external interface.
type subscribeFrame struct {
	Method string `json:"method"`
}

// WSTransport is the concrete Transport backing a live upstream, a thin
// Dial/ReadMessage wrapper grounded on predator_engine's PredatorWorker.Run
// reconnect loop (websocket.DefaultDialer.Dial followed by a blocking
// conn.ReadMessage loop), adapted here behind the Connect/ReadMessage/Close
// shape Source expects rather than an inline retry loop of its own.
type WSTransport struct {
	URL            string
	SubscribeMethod string
	HandshakeTimeout time.Duration

	mtx  sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport builds a WSTransport that subscribes with method on
// connect, e.g. "subscribeNewToken".
func NewWSTransport(url, subscribeMethod string) *WSTransport {
	return &WSTransport{URL: url, SubscribeMethod: subscribeMethod, HandshakeTimeout: 10 * time.Second}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.HandshakeTimeoutOrDefault()}
	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return fmt.Errorf("discovery: ws dial %s: %w", t.URL, err)
	}

	t.mtx.Lock()
	t.conn = conn
	t.mtx.Unlock()

	if t.SubscribeMethod != "" {
		frame, err := json.Marshal(subscribeFrame{Method: t.SubscribeMethod})
		if err != nil {
			conn.Close()
			return fmt.Errorf("discovery: encode subscribe frame: %w", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			conn.Close()
			return fmt.Errorf("discovery: send subscribe frame: %w", err)
		}
	}
	return nil
}

func (t *WSTransport) HandshakeTimeoutOrDefault() time.Duration {
	if t.HandshakeTimeout > 0 {
		return t.HandshakeTimeout
	}
	return 10 * time.Second
}

// ReadMessage blocks for the next frame. If ctx has a deadline it is
// applied as the connection's read deadline, since gorilla's ReadMessage
// has no context-aware variant; cancelling ctx does not interrupt a read
// that is already blocked.
func (t *WSTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	t.mtx.Lock()
	conn := t.conn
	t.mtx.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("discovery: read on unconnected transport")
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(dl)
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("discovery: ws read: %w", err)
	}
	return msg, nil
}

func (t *WSTransport) Close() error {
	t.mtx.Lock()
	conn := t.conn
	t.conn = nil
	t.mtx.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
