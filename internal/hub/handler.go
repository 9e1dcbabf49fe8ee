package hub

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agent-event-relay/backend/internal/model"
	"github.com/agent-event-relay/backend/internal/ratelimit"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// DefaultQueueCapacity bounds the per-session outbound queue.
	DefaultQueueCapacity = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// AuthFunc resolves the opaque bearer token carried as a connection
// parameter to a user id. An empty token yields an anonymous session.
// Token issuance is an external concern.
type AuthFunc func(token string) (userID string, err error)

// Handler upgrades HTTP connections and runs the per-session read and
// write pumps so one slow client can never stall fan-out to others.
type Handler struct {
	registry      *Registry
	limiter       *ratelimit.Limiter
	auth          AuthFunc
	queueCapacity int
}

// NewHandler creates a WebSocket handler. A nil auth func treats every
// connection as anonymous.
func NewHandler(registry *Registry, limiter *ratelimit.Limiter, auth AuthFunc) *Handler {
	if auth == nil {
		auth = func(string) (string, error) { return "", nil }
	}
	return &Handler{
		registry:      registry,
		limiter:       limiter,
		auth:          auth,
		queueCapacity: DefaultQueueCapacity,
	}
}

// SetQueueCapacity overrides the per-session outbound queue capacity
// for sessions created after the call.
func (h *Handler) SetQueueCapacity(n int) {
	if n > 0 {
		h.queueCapacity = n
	}
}

// HandleConnection upgrades the request, registers a session and starts
// its pumps. Blocked targets are rejected before the upgrade.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	token := r.URL.Query().Get("token")
	userID, err := h.auth(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return nil
	}

	remoteAddr := r.RemoteAddr
	if h.limiter != nil && h.limiter.IsBlocked(userID, remoteAddr) {
		http.Error(w, "Connection refused", http.StatusTooManyRequests)
		return model.ErrTargetBlocked
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	session := NewSession(uuid.New().String(), userID, remoteAddr, r.UserAgent(), conn, h.queueCapacity)
	h.registry.Register(session)

	go h.writePump(session)
	go h.readPump(session)

	return nil
}

// readPump pumps frames from the WebSocket connection into the hub.
func (h *Handler) readPump(s *Session) {
	defer func() {
		if !s.IsClosed() {
			h.registry.Disconnect(s.ID, "connection closed")
		}
		s.Conn().Close()
	}()

	s.Conn().SetReadLimit(maxMessageSize)
	s.Conn().SetReadDeadline(time.Now().Add(pongWait))
	s.Conn().SetPongHandler(func(string) error {
		s.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on session %s: %v", s.ID, err)
			}
			return
		}

		s.NoteInbound(len(message))

		frame, err := model.DecodeFrame(message)
		if err != nil {
			// Malformed frames are logged and discarded; they must not
			// affect the dispatch loop or other sessions.
			log.Printf("Discarding malformed frame from session %s: %v", s.ID, err)
			continue
		}

		if !h.allow(s, frame.Channel) {
			if s.IsClosed() {
				return
			}
			continue
		}

		h.dispatch(s, frame)
		if s.IsClosed() {
			return
		}
	}
}

// allow runs rate-limit evaluation for one inbound event and applies
// the resulting action. Returns false when the frame must be dropped.
func (h *Handler) allow(s *Session, channelName string) bool {
	if h.limiter == nil {
		return true
	}

	decision := h.limiter.Evaluate(ratelimit.Event{
		UserID:  s.UserID,
		IP:      s.RemoteAddr,
		Channel: channelName,
	})
	if decision.Allowed() {
		return true
	}

	switch decision.Action {
	case model.ActionThrottle:
		// Dropped without closing the connection.
		return false
	case model.ActionDisconnect:
		h.registry.Disconnect(s.ID, "rate limit exceeded: "+decision.Rule.Name)
		return false
	case model.ActionBlock:
		// The limiter already placed the target on the blocklist.
		h.registry.Disconnect(s.ID, "rate limit block: "+decision.Rule.Name)
		return false
	}
	return false
}

// dispatch routes one decoded inbound frame.
func (h *Handler) dispatch(s *Session, frame *model.Frame) {
	switch frame.Type {
	case model.FrameTypeHeartbeat:
		h.sendFrame(s, model.NewHeartbeatFrame(frame.Timestamp))

	case model.FrameTypeCommand:
		h.dispatchCommand(s, frame)

	case model.FrameTypeData:
		// Bare data frames from clients are treated as publishes.
		if frame.Channel == "" {
			h.sendFrame(s, model.NewErrorFrame("missing_channel", "data frame requires a channel"))
			return
		}
		h.registry.Broadcast(model.BroadcastTarget{Type: model.TargetChannel, ID: frame.Channel}, frame)

	default:
		h.sendFrame(s, model.NewErrorFrame("unknown_type", "unknown frame type: "+string(frame.Type)))
	}
}

func (h *Handler) dispatchCommand(s *Session, frame *model.Frame) {
	switch frame.Command {
	case model.CommandSubscribe:
		if frame.Channel == "" {
			h.sendFrame(s, model.NewErrorFrame("missing_channel", "subscribe requires a channel"))
			return
		}
		if err := h.registry.Subscribe(s.ID, frame.Channel); err != nil {
			h.sendFrame(s, model.NewErrorFrame("subscribe_failed", err.Error()))
		}

	case model.CommandUnsubscribe:
		if frame.Channel == "" {
			h.sendFrame(s, model.NewErrorFrame("missing_channel", "unsubscribe requires a channel"))
			return
		}
		if err := h.registry.Unsubscribe(s.ID, frame.Channel); err != nil {
			h.sendFrame(s, model.NewErrorFrame("unsubscribe_failed", err.Error()))
		}

	case model.CommandPublish:
		if frame.Channel == "" {
			h.sendFrame(s, model.NewErrorFrame("missing_channel", "publish requires a channel"))
			return
		}
		data := model.NewDataFrame(frame.Channel, frame.Payload)
		data.RequestID = frame.RequestID
		h.registry.Broadcast(model.BroadcastTarget{Type: model.TargetChannel, ID: frame.Channel}, data)

	default:
		h.sendFrame(s, model.NewErrorFrame("unknown_command", "unknown command: "+frame.Command))
	}
}

// sendFrame enqueues a frame on the session's own queue.
func (h *Handler) sendFrame(s *Session, frame *model.Frame) {
	data, err := frame.Encode()
	if err != nil {
		log.Printf("Failed to encode frame for session %s: %v", s.ID, err)
		return
	}
	s.Enqueue(data)
}

// writePump drains the session's outbound queue onto the connection and
// keeps the transport alive with pings.
func (h *Handler) writePump(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn().Close()
	}()

	for {
		select {
		case <-s.Queue().Ready():
			for {
				frame, ok := s.Queue().Pop()
				if !ok {
					break
				}
				s.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.Conn().WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
				s.NoteOutbound(len(frame))
			}
			if s.Queue().Closed() {
				s.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		case <-ticker.C:
			s.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
