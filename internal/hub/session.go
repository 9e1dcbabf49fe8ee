package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-event-relay/backend/internal/buffer"
	"github.com/agent-event-relay/backend/internal/model"
)

// Session is one logical duplex connection between a client and the hub.
// It owns the gorilla connection, the bounded outbound queue and the
// traffic counters. Channel membership lives here too but is mutated
// only by the Registry, under the registry lock, so the session's view
// and the channel's member set never diverge.
type Session struct {
	ID         string
	UserID     string
	RemoteAddr string
	UserAgent  string

	conn  *websocket.Conn
	queue *buffer.FrameQueue

	// guarded by the owning Registry's mutex
	channels map[string]struct{}

	mu             sync.Mutex
	connectedAt    time.Time
	lastActivityAt time.Time
	bytesSent      int64
	bytesReceived  int64
	messageCount   int64
	closed         bool
	closeReason    string
}

// NewSession creates a session for an upgraded connection. An empty
// userID marks the session anonymous.
func NewSession(id, userID, remoteAddr, userAgent string, conn *websocket.Conn, queueCapacity int) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		UserID:         userID,
		RemoteAddr:     remoteAddr,
		UserAgent:      userAgent,
		conn:           conn,
		queue:          buffer.NewFrameQueue(queueCapacity),
		channels:       make(map[string]struct{}),
		connectedAt:    now,
		lastActivityAt: now,
	}
}

// Enqueue queues an encoded frame for delivery. Returns false when the
// session is already closed. Never blocks; the queue drops its oldest
// frame on overflow.
func (s *Session) Enqueue(frame []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.queue.Push(frame)
}

// Queue exposes the outbound queue to the write pump.
func (s *Session) Queue() *buffer.FrameQueue {
	return s.queue
}

// Conn returns the underlying WebSocket connection.
func (s *Session) Conn() *websocket.Conn {
	return s.conn
}

// Close marks the session closed with a reason and cancels all queued
// outbound work. Idempotent; the first reason wins.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeReason = reason
	s.mu.Unlock()

	s.queue.Close()
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseReason returns the reason recorded at close time.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// NoteInbound records an inbound frame of n bytes.
func (s *Session) NoteInbound(n int) {
	s.mu.Lock()
	s.bytesReceived += int64(n)
	s.messageCount++
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// NoteOutbound records an outbound frame of n bytes.
func (s *Session) NoteOutbound(n int) {
	s.mu.Lock()
	s.bytesSent += int64(n)
	s.messageCount++
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// Touch refreshes the activity timestamp without counting traffic.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// Counters returns the running traffic totals.
func (s *Session) Counters() (bytesSent, bytesReceived, messageCount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent, s.bytesReceived, s.messageCount
}

// ConnectedAt returns the handshake time.
func (s *Session) ConnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

// snapshot builds the admin view. The channels slice must be collected
// by the registry under its lock.
func (s *Session) snapshot(channels []string, idleAfter time.Duration) *model.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := model.SessionStatusActive
	switch {
	case s.closed:
		status = model.SessionStatusDisconnected
	case idleAfter > 0 && time.Since(s.lastActivityAt) > idleAfter:
		status = model.SessionStatusIdle
	}

	return &model.SessionSnapshot{
		ID:                 s.ID,
		UserID:             s.UserID,
		RemoteAddr:         s.RemoteAddr,
		UserAgent:          s.UserAgent,
		ConnectedAt:        s.connectedAt,
		LastActivityAt:     s.lastActivityAt,
		SubscribedChannels: channels,
		BytesSent:          s.bytesSent,
		BytesReceived:      s.bytesReceived,
		MessageCount:       s.messageCount,
		Status:             status,
	}
}
