// Package client implements the client side of the event channel: a
// minimal transport abstraction and the connection manager that owns
// reconnection, heartbeats, subscription replay and offline queueing.
package client

import (
	"context"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/agent-event-relay/backend/internal/model"
)

// Transport is one logical duplex connection attempt. The connection
// manager drives it through Open/Send/Close and receives inbound data
// and closure through the callbacks, so the manager's backoff and
// heartbeat logic is testable against a fake transport.
type Transport interface {
	Open(ctx context.Context) error
	Send(data []byte) error
	Close() error
	SetOnMessage(fn func(data []byte))
	SetOnClose(fn func(err error))
}

// TransportFactory produces a fresh transport for each connection
// attempt.
type TransportFactory func() Transport

// WebSocketTransport implements Transport over a gorilla WebSocket
// connection. The bearer token travels as a connection parameter.
type WebSocketTransport struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	onMessage func([]byte)
	onClose   func(error)
}

// NewWebSocketTransport creates a transport for the given endpoint.
func NewWebSocketTransport(endpoint, token string) *WebSocketTransport {
	return &WebSocketTransport{
		endpoint: endpoint,
		token:    token,
		dialer:   websocket.DefaultDialer,
	}
}

// NewWebSocketFactory returns a TransportFactory producing fresh
// WebSocket transports for the endpoint.
func NewWebSocketFactory(endpoint, token string) TransportFactory {
	return func() Transport {
		return NewWebSocketTransport(endpoint, token)
	}
}

// Open dials the endpoint and starts the read loop.
func (t *WebSocketTransport) Open(ctx context.Context) error {
	target := t.endpoint
	if t.token != "" {
		u, err := url.Parse(t.endpoint)
		if err != nil {
			return err
		}
		q := u.Query()
		q.Set("token", t.token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	conn, _, err := t.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			onClose := t.onClose
			closed := t.closed
			t.mu.Unlock()
			if !closed && onClose != nil {
				onClose(err)
			}
			return
		}

		t.mu.Lock()
		onMessage := t.onMessage
		t.mu.Unlock()
		if onMessage != nil {
			onMessage(message)
		}
	}
}

// Send writes one text frame.
func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return model.ErrNotConnected
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears down the connection without firing the onClose callback;
// deliberate closes are not transport failures.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// SetOnMessage registers the inbound data callback.
func (t *WebSocketTransport) SetOnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

// SetOnClose registers the unexpected-closure callback.
func (t *WebSocketTransport) SetOnClose(fn func(error)) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}
