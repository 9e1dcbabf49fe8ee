package model

import "time"

// Notification is one entry in the client-side cache. Synced=false marks
// a record with local edits not yet acknowledged by the server.
type Notification struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	Read         bool              `json:"read"`
	Synced       bool              `json:"synced"`
	LastModified time.Time         `json:"lastModified"`
}

// Clone returns a deep copy of the notification.
func (n *Notification) Clone() *Notification {
	c := *n
	if n.Metadata != nil {
		c.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ActionType is the kind of locally-queued mutation awaiting sync.
type ActionType string

const (
	ActionMarkRead ActionType = "mark_read"
	ActionDelete   ActionType = "delete"
	ActionCreate   ActionType = "create"
)

// PendingAction is a not-yet-acknowledged local mutation. At most one
// action per (Type, NotificationID) pair exists in the queue.
type PendingAction struct {
	ID             string     `json:"id"`
	Type           ActionType `json:"type"`
	NotificationID string     `json:"notificationId"`
	Timestamp      time.Time  `json:"timestamp"`
	Data           []byte     `json:"data,omitempty"`
}

// SyncState is the client's durable reconciliation bookkeeping.
type SyncState struct {
	LastSyncTime   time.Time        `json:"lastSyncTime"`
	PendingActions []*PendingAction `json:"pendingActions"`
}
