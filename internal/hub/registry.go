// Package hub implements the server-side event hub: session tracking,
// channel membership, fan-out and the execution-event consumer.
package hub

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/agent-event-relay/backend/internal/model"
	"github.com/agent-event-relay/backend/internal/ratelimit"
)

// channel is a named fan-out group. Created lazily on first subscribe,
// garbage-collected when membership reaches zero.
type channel struct {
	name           string
	members        map[string]*Session
	createdAt      time.Time
	lastActivityAt time.Time
}

func (c *channel) authenticatedCount() int {
	users := make(map[string]struct{})
	for _, s := range c.members {
		if s.UserID != "" {
			users[s.UserID] = struct{}{}
		}
	}
	return len(users)
}

// ConnectionRecorder persists connection history for the admin stats
// surface. Implementations must tolerate being called concurrently.
type ConnectionRecorder interface {
	RecordConnect(ctx context.Context, entry *model.ConnectionLogEntry) error
	RecordDisconnect(ctx context.Context, sessionID string, entry *model.ConnectionLogEntry) error
}

// Registry maps channel names to subscribed sessions and resolves
// broadcast targets. It is an injectable object, not a process-wide
// singleton, so independent hub instances can coexist in tests.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
	channels map[string]*channel

	recorder  ConnectionRecorder
	idleAfter time.Duration
	limiter   *ratelimit.Limiter
}

// NewRegistry creates an empty registry. The recorder may be nil when
// connection history is not persisted (tests).
func NewRegistry(recorder ConnectionRecorder, idleAfter time.Duration) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]map[string]*Session),
		channels:  make(map[string]*channel),
		recorder:  recorder,
		idleAfter: idleAfter,
	}
}

// SetLimiter wires rate-limit evaluation into the broadcast path:
// every channel-targeted send counts as an event against channel-scope
// rules, whether it originates from a client publish, an admin
// broadcast or execution-event fan-out. Call before serving traffic.
func (r *Registry) SetLimiter(l *ratelimit.Limiter) {
	r.limiter = l
}

// Register adds a freshly handshaken session.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	if s.UserID != "" {
		if r.byUser[s.UserID] == nil {
			r.byUser[s.UserID] = make(map[string]*Session)
		}
		r.byUser[s.UserID][s.ID] = s
	}
	r.mu.Unlock()

	if r.recorder != nil {
		entry := &model.ConnectionLogEntry{
			SessionID:   s.ID,
			UserID:      s.UserID,
			RemoteAddr:  s.RemoteAddr,
			ConnectedAt: s.ConnectedAt(),
		}
		if err := r.recorder.RecordConnect(context.Background(), entry); err != nil {
			log.Printf("Failed to record connect for session %s: %v", s.ID, err)
		}
	}
}

// Subscribe adds the session to a channel. Idempotent; the session's
// channel set and the channel's member set change together under the
// registry lock.
func (r *Registry) Subscribe(sessionID, channelName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return model.ErrSessionNotFound
	}

	ch := r.channels[channelName]
	if ch == nil {
		now := time.Now()
		ch = &channel{
			name:           channelName,
			members:        make(map[string]*Session),
			createdAt:      now,
			lastActivityAt: now,
		}
		r.channels[channelName] = ch
	}

	ch.members[sessionID] = s
	s.channels[channelName] = struct{}{}
	ch.lastActivityAt = time.Now()
	return nil
}

// Unsubscribe removes the session from a channel. The channel is
// dropped once its membership reaches zero.
func (r *Registry) Unsubscribe(sessionID, channelName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return model.ErrSessionNotFound
	}

	delete(s.channels, channelName)
	if ch := r.channels[channelName]; ch != nil {
		delete(ch.members, sessionID)
		ch.lastActivityAt = time.Now()
		if len(ch.members) == 0 {
			delete(r.channels, channelName)
		}
	}
	return nil
}

// Disconnect removes the session from every channel it belonged to,
// closes it with the given reason and records the disconnect.
func (r *Registry) Disconnect(sessionID, reason string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return model.ErrSessionNotFound
	}
	r.removeLocked(s)
	r.mu.Unlock()

	s.Close(reason)
	r.recordDisconnect(s, reason)
	return nil
}

// DisconnectUser force-disconnects every session of a user and returns
// how many were closed.
func (r *Registry) DisconnectUser(userID, reason string) int {
	r.mu.Lock()
	var victims []*Session
	for _, s := range r.byUser[userID] {
		victims = append(victims, s)
	}
	for _, s := range victims {
		r.removeLocked(s)
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.Close(reason)
		r.recordDisconnect(s, reason)
	}
	return len(victims)
}

// removeLocked detaches a session from all registry structures.
// Caller holds the write lock.
func (r *Registry) removeLocked(s *Session) {
	delete(r.sessions, s.ID)
	if s.UserID != "" {
		if userSessions := r.byUser[s.UserID]; userSessions != nil {
			delete(userSessions, s.ID)
			if len(userSessions) == 0 {
				delete(r.byUser, s.UserID)
			}
		}
	}
	now := time.Now()
	for name := range s.channels {
		if ch := r.channels[name]; ch != nil {
			delete(ch.members, s.ID)
			ch.lastActivityAt = now
			if len(ch.members) == 0 {
				delete(r.channels, name)
			}
		}
	}
	s.channels = make(map[string]struct{})
}

func (r *Registry) recordDisconnect(s *Session, reason string) {
	if r.recorder == nil {
		return
	}
	sent, received, count := s.Counters()
	now := time.Now()
	entry := &model.ConnectionLogEntry{
		SessionID:      s.ID,
		UserID:         s.UserID,
		RemoteAddr:     s.RemoteAddr,
		ConnectedAt:    s.ConnectedAt(),
		DisconnectedAt: &now,
		BytesSent:      sent,
		BytesReceived:  received,
		MessageCount:   count,
		Reason:         reason,
	}
	if err := r.recorder.RecordDisconnect(context.Background(), s.ID, entry); err != nil {
		log.Printf("Failed to record disconnect for session %s: %v", s.ID, err)
	}
}

// Broadcast resolves the target to a concrete session set and enqueues
// the frame on each matching session's outbound queue. It returns the
// number of sessions actually reached; sessions closing in the same
// instant are excluded from the count.
func (r *Registry) Broadcast(target model.BroadcastTarget, frame *model.Frame) (int, error) {
	if target.Type == model.TargetChannel && r.limiter != nil {
		decision := r.limiter.Evaluate(ratelimit.Event{Channel: target.ID})
		if !decision.Allowed() {
			// The violation is counted; the send itself is dropped.
			log.Printf("Dropping broadcast to channel %s: rate limit %s", target.ID, decision.Rule.Name)
			return 0, nil
		}
	}

	data, err := frame.Encode()
	if err != nil {
		return 0, err
	}

	r.mu.RLock()
	var targets []*Session
	switch target.Type {
	case model.TargetAll:
		for _, s := range r.sessions {
			targets = append(targets, s)
		}
	case model.TargetUser:
		for _, s := range r.byUser[target.ID] {
			targets = append(targets, s)
		}
	case model.TargetChannel:
		if ch := r.channels[target.ID]; ch != nil {
			for _, s := range ch.members {
				targets = append(targets, s)
			}
		}
	}
	r.mu.RUnlock()

	reached := 0
	for _, s := range targets {
		if s.Enqueue(data) {
			reached++
		}
	}
	return reached, nil
}

// GetSession returns a live session by id.
func (r *Registry) GetSession(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ChannelCount returns the number of live channels.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// MemberCount returns the live membership of a channel.
func (r *Registry) MemberCount(channelName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ch := r.channels[channelName]; ch != nil {
		return len(ch.members)
	}
	return 0
}

// ChannelStats lists aggregate stats for every channel, sorted by name.
func (r *Registry) ChannelStats() []*model.ChannelStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]*model.ChannelStats, 0, len(r.channels))
	for _, ch := range r.channels {
		auth := ch.authenticatedCount()
		anon := 0
		for _, s := range ch.members {
			if s.UserID == "" {
				anon++
			}
		}
		stats = append(stats, &model.ChannelStats{
			Name:               ch.name,
			MemberCount:        len(ch.members),
			AuthenticatedCount: auth,
			AnonymousCount:     anon,
			CreatedAt:          ch.createdAt,
			LastActivityAt:     ch.lastActivityAt,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Sessions lists snapshots of live sessions matching the filter, sorted
// by connect time descending.
func (r *Registry) Sessions(filter model.SessionFilter) []*model.SessionSnapshot {
	r.mu.RLock()
	var candidates []*Session
	channelsBySession := make(map[string][]string)
	for _, s := range r.sessions {
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		if filter.Channel != "" {
			if _, ok := s.channels[filter.Channel]; !ok {
				continue
			}
		}
		names := make([]string, 0, len(s.channels))
		for name := range s.channels {
			names = append(names, name)
		}
		sort.Strings(names)
		channelsBySession[s.ID] = names
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	snapshots := make([]*model.SessionSnapshot, 0, len(candidates))
	for _, s := range candidates {
		snap := s.snapshot(channelsBySession[s.ID], r.idleAfter)
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ConnectedAt.After(snapshots[j].ConnectedAt)
	})
	return snapshots
}

// Close disconnects every session, used at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []*Session
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.byUser = make(map[string]map[string]*Session)
	r.channels = make(map[string]*channel)
	r.mu.Unlock()

	for _, s := range all {
		s.Close("server shutdown")
	}
}
