package notifsync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-event-relay/backend/internal/model"
)

// Backend is the server side of a sync cycle. Both operations must be
// safely retriable: the service resends pending actions blindly after
// failures.
type Backend interface {
	FetchSince(ctx context.Context, since time.Time) ([]*model.Notification, error)
	SendAction(ctx context.Context, action *model.PendingAction) error
}

// DefaultMaxRetained caps the local cache unless configured otherwise.
const DefaultMaxRetained = 200

// Service reconciles the local notification cache with the server.
// Local mutations apply immediately and queue a pending action; a sync
// cycle fetches server changes, merges them and replays the queue.
// Only one cycle runs at a time; a second trigger while one is in
// flight is a no-op.
type Service struct {
	store       Store
	maxRetained int

	mu      sync.Mutex
	cache   map[string]*model.Notification
	state   *model.SyncState
	syncing bool
}

// NewService creates a Service backed by the given store, restoring any
// previously persisted cache and sync state.
func NewService(store Store, maxRetained int) (*Service, error) {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}

	notifications, err := store.LoadNotifications()
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	state, err := store.LoadSyncState()
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	if state == nil {
		state = &model.SyncState{}
	}

	cache := make(map[string]*model.Notification, len(notifications))
	for _, n := range notifications {
		cache[n.ID] = n
	}

	return &Service{
		store:       store,
		maxRetained: maxRetained,
		cache:       cache,
		state:       state,
	}, nil
}

// Notifications returns the cached notifications, newest first.
func (s *Service) Notifications() []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Notification, 0, len(s.cache))
	for _, n := range s.cache {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// PendingActions returns a copy of the pending-action queue.
func (s *Service) PendingActions() []*model.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.PendingAction, 0, len(s.state.PendingActions))
	for _, a := range s.state.PendingActions {
		action := *a
		out = append(out, &action)
	}
	return out
}

// MarkAsReadLocally marks a notification read in the cache and queues a
// mark-read action for the next sync.
func (s *Service) MarkAsReadLocally(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.cache[id]
	if !ok {
		return model.ErrNotificationNotFound
	}
	n.Read = true
	n.Synced = false
	n.LastModified = time.Now()
	s.enqueueActionLocked(model.ActionMarkRead, id, nil)
	return s.persistLocked()
}

// DeleteLocally removes a notification from the cache and queues a
// delete action for the next sync.
func (s *Service) DeleteLocally(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache[id]; !ok {
		return model.ErrNotificationNotFound
	}
	delete(s.cache, id)
	s.enqueueActionLocked(model.ActionDelete, id, nil)
	return s.persistLocked()
}

// Ingest applies one server-pushed notification (from the live event
// channel) using the same merge rule as a sync cycle.
func (s *Service) Ingest(n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasPendingDeleteLocked(n.ID) {
		return nil
	}
	s.mergeOneLocked(n)
	s.evictLocked()
	return s.persistLocked()
}

// hasPendingDeleteLocked reports whether a delete action is queued for
// the notification. A server copy must never resurrect a record the
// user already deleted locally.
func (s *Service) hasPendingDeleteLocked(notificationID string) bool {
	for _, a := range s.state.PendingActions {
		if a.Type == model.ActionDelete && a.NotificationID == notificationID {
			return true
		}
	}
	return false
}

// enqueueActionLocked adds a pending action, replacing any existing
// action with the same (type, notification) pair: last intent wins
// locally, and the queue never holds duplicates for the same pair.
func (s *Service) enqueueActionLocked(actionType model.ActionType, notificationID string, data []byte) {
	actions := s.state.PendingActions[:0]
	for _, a := range s.state.PendingActions {
		if a.Type == actionType && a.NotificationID == notificationID {
			continue
		}
		actions = append(actions, a)
	}
	s.state.PendingActions = append(actions, &model.PendingAction{
		ID:             uuid.New().String(),
		Type:           actionType,
		NotificationID: notificationID,
		Timestamp:      time.Now(),
		Data:           data,
	})
}

// Merge decides which copy of a notification to keep. A missing local
// copy adopts the server's; a local copy with unsynced edits wins over
// the server's (pending local intent is never overwritten); otherwise
// the server copy is adopted only when strictly newer. Conflicting
// concurrent edits therefore resolve last-writer-wins by LastModified.
func Merge(local, server *model.Notification) *model.Notification {
	if local == nil {
		adopted := server.Clone()
		adopted.Synced = true
		return adopted
	}
	if !local.Synced {
		return local
	}
	if server.LastModified.After(local.LastModified) {
		adopted := server.Clone()
		adopted.Synced = true
		return adopted
	}
	return local
}

func (s *Service) mergeOneLocked(server *model.Notification) {
	s.cache[server.ID] = Merge(s.cache[server.ID], server)
}

// SyncWithServer runs one reconciliation cycle: fetch server changes,
// merge them into the cache, replay the pending-action queue, and only
// then advance the sync watermark. A cycle already in flight makes this
// call a no-op.
func (s *Service) SyncWithServer(ctx context.Context, backend Backend) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil
	}
	s.syncing = true
	since := s.state.LastSyncTime
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	serverNotifications, err := backend.FetchSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to fetch notifications: %w", err)
	}

	s.mu.Lock()
	for _, n := range serverNotifications {
		if s.hasPendingDeleteLocked(n.ID) {
			continue
		}
		s.mergeOneLocked(n)
	}
	s.evictLocked()
	pending := make([]*model.PendingAction, len(s.state.PendingActions))
	copy(pending, s.state.PendingActions)
	s.mu.Unlock()

	// Replay pending actions; each leaves the queue only on confirmed
	// success. Failures stay queued for the next cycle, so the server
	// endpoints must be idempotent.
	var firstErr error
	for _, action := range pending {
		if err := backend.SendAction(ctx, action); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to send %s action for %s: %w", action.Type, action.NotificationID, err)
			}
			log.Printf("Pending %s action for %s left queued: %v", action.Type, action.NotificationID, err)
			continue
		}
		s.mu.Lock()
		s.removeActionLocked(action.ID)
		switch action.Type {
		case model.ActionMarkRead:
			if n, ok := s.cache[action.NotificationID]; ok {
				n.Synced = true
			}
		case model.ActionDelete:
			// The cache must not retain a copy the server has deleted.
			delete(s.cache, action.NotificationID)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.state.LastSyncTime = time.Now()
	err = s.persistLocked()
	s.mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return err
}

func (s *Service) removeActionLocked(actionID string) {
	actions := s.state.PendingActions[:0]
	for _, a := range s.state.PendingActions {
		if a.ID == actionID {
			continue
		}
		actions = append(actions, a)
	}
	s.state.PendingActions = actions
}

// evictLocked enforces the retention cap, dropping oldest-by-creation
// entries and preferring synced ones so unsynced local edits are not
// destroyed prematurely.
func (s *Service) evictLocked() {
	over := len(s.cache) - s.maxRetained
	if over <= 0 {
		return
	}

	all := make([]*model.Notification, 0, len(s.cache))
	for _, n := range s.cache {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Synced != all[j].Synced {
			return all[i].Synced
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	for _, n := range all {
		if over == 0 {
			break
		}
		delete(s.cache, n.ID)
		over--
	}
}

func (s *Service) persistLocked() error {
	notifications := make([]*model.Notification, 0, len(s.cache))
	for _, n := range s.cache {
		notifications = append(notifications, n)
	}
	if err := s.store.SaveNotifications(notifications); err != nil {
		return fmt.Errorf("failed to save notifications: %w", err)
	}
	if err := s.store.SaveSyncState(s.state); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}
