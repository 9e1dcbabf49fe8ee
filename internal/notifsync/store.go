// Package notifsync keeps a client-local notification cache consistent
// with the server under intermittent connectivity, without losing local
// edits.
package notifsync

import (
	"sync"

	"github.com/agent-event-relay/backend/internal/model"
)

// Store is the pluggable persistent key-value store backing the cache
// and the sync bookkeeping. The reconciliation algorithm itself is pure
// and independent of storage.
type Store interface {
	LoadNotifications() ([]*model.Notification, error)
	SaveNotifications(notifications []*model.Notification) error
	LoadSyncState() (*model.SyncState, error)
	SaveSyncState(state *model.SyncState) error
}

// MemoryStore is an in-process Store, used in tests and as the default
// when no durable store is wired.
type MemoryStore struct {
	mu            sync.Mutex
	notifications []*model.Notification
	state         *model.SyncState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadNotifications returns deep copies of the stored notifications.
func (s *MemoryStore) LoadNotifications() ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n.Clone())
	}
	return out, nil
}

// SaveNotifications replaces the stored notifications.
func (s *MemoryStore) SaveNotifications(notifications []*model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = make([]*model.Notification, 0, len(notifications))
	for _, n := range notifications {
		s.notifications = append(s.notifications, n.Clone())
	}
	return nil
}

// LoadSyncState returns a copy of the stored sync state, or an empty
// state when nothing has been saved yet.
func (s *MemoryStore) LoadSyncState() (*model.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return &model.SyncState{}, nil
	}
	copied := &model.SyncState{LastSyncTime: s.state.LastSyncTime}
	for _, a := range s.state.PendingActions {
		action := *a
		copied.PendingActions = append(copied.PendingActions, &action)
	}
	return copied, nil
}

// SaveSyncState replaces the stored sync state.
func (s *MemoryStore) SaveSyncState(state *model.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := &model.SyncState{LastSyncTime: state.LastSyncTime}
	for _, a := range state.PendingActions {
		action := *a
		copied.PendingActions = append(copied.PendingActions, &action)
	}
	s.state = copied
	return nil
}
