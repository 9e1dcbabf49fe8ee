package model

import "time"

// SessionStatus represents the liveness of a hub session.
type SessionStatus string

const (
	SessionStatusActive       SessionStatus = "active"
	SessionStatusIdle         SessionStatus = "idle"
	SessionStatusDisconnected SessionStatus = "disconnected"
)

// SessionSnapshot is a point-in-time view of a connected session, as
// exposed to the admin surface.
type SessionSnapshot struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"userId,omitempty"`
	RemoteAddr         string        `json:"remoteAddr"`
	UserAgent          string        `json:"userAgent,omitempty"`
	ConnectedAt        time.Time     `json:"connectedAt"`
	LastActivityAt     time.Time     `json:"lastActivityAt"`
	SubscribedChannels []string      `json:"subscribedChannels"`
	BytesSent          int64         `json:"bytesSent"`
	BytesReceived      int64         `json:"bytesReceived"`
	MessageCount       int64         `json:"messageCount"`
	Status             SessionStatus `json:"status"`
}

// ChannelStats is the aggregate view of one channel for the admin surface.
type ChannelStats struct {
	Name               string    `json:"name"`
	MemberCount        int       `json:"memberCount"`
	AuthenticatedCount int       `json:"authenticatedCount"`
	AnonymousCount     int       `json:"anonymousCount"`
	CreatedAt          time.Time `json:"createdAt"`
	LastActivityAt     time.Time `json:"lastActivityAt"`
}

// SessionFilter narrows the admin session listing.
type SessionFilter struct {
	UserID  string
	Channel string
	Status  SessionStatus
}

// TargetType selects the addressing mode of a broadcast.
type TargetType string

const (
	TargetAll     TargetType = "all"
	TargetUser    TargetType = "user"
	TargetChannel TargetType = "channel"
)

// BroadcastTarget resolves to a concrete session set at send time.
type BroadcastTarget struct {
	Type TargetType
	ID   string // user id or channel name, empty for TargetAll
}

// ConnectionLogEntry is one historical connection record, written on
// disconnect for the admin stats surface.
type ConnectionLogEntry struct {
	SessionID      string     `json:"sessionId"`
	UserID         string     `json:"userId,omitempty"`
	RemoteAddr     string     `json:"remoteAddr"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	BytesSent      int64      `json:"bytesSent"`
	BytesReceived  int64      `json:"bytesReceived"`
	MessageCount   int64      `json:"messageCount"`
	Reason         string     `json:"reason,omitempty"`
}
