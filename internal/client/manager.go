package client

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/agent-event-relay/backend/internal/model"
)

// State is the connection manager's lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateError is terminal: reached after exhausting reconnect
	// attempts, left only by an explicit Reconnect call.
	StateError State = "error"
)

// FrameHandler receives one inbound frame.
type FrameHandler func(frame *model.Frame)

// Defaults applied by NewManager for zero-valued config fields.
const (
	DefaultBackoffBase    = time.Second
	DefaultMaxAttempts    = 5
	DefaultHeartbeatEvery = 30 * time.Second
)

// Config configures a Manager.
type Config struct {
	Factory           TransportFactory
	BackoffBase       time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
}

// BackoffDelay returns the delay before the Nth reconnect attempt:
// base * 2^(attempt-1).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

type handlerReg struct {
	id int
	fn FrameHandler
}

// Manager owns a transport's lifecycle: connect, reconnect with
// exponential backoff, heartbeat liveness, client-authoritative
// subscription replay and outbound queueing while disconnected.
type Manager struct {
	factory           TransportFactory
	backoffBase       time.Duration
	maxAttempts       int
	heartbeatInterval time.Duration

	mu              sync.Mutex
	state           State
	transport       Transport
	attempt         int
	nextHandlerID   int
	channelHandlers map[string][]handlerReg
	typeHandlers    map[model.FrameType][]handlerReg
	queue           []*model.Frame
	lastAck         time.Time
	heartbeatStop   chan struct{}
	reconnectTimer  *time.Timer
}

// NewManager creates a connection manager. It does not connect.
func NewManager(cfg Config) *Manager {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatEvery
	}
	return &Manager{
		factory:           cfg.Factory,
		backoffBase:       cfg.BackoffBase,
		maxAttempts:       cfg.MaxAttempts,
		heartbeatInterval: cfg.HeartbeatInterval,
		state:             StateDisconnected,
		channelHandlers:   make(map[string][]handlerReg),
		typeHandlers:      make(map[model.FrameType][]handlerReg),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueuedCount returns how many outbound frames await reconnection.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Connect opens the transport. A no-op when already connecting or
// connected.
func (m *Manager) Connect() error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	return m.dial()
}

// Disconnect closes the transport deliberately and cancels all timers.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.state = StateDisconnected
	m.cancelTimersLocked()
	t := m.transport
	m.transport = nil
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
}

// Reconnect restarts the connection from any state, resetting the
// attempt counter. This is the only way out of the terminal error state.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.attempt = 0
	m.cancelTimersLocked()
	m.state = StateConnecting
	m.mu.Unlock()

	return m.dial()
}

// dial opens a fresh transport and wires its callbacks.
func (m *Manager) dial() error {
	t := m.factory()
	t.SetOnMessage(m.dispatch)
	t.SetOnClose(func(err error) {
		m.transportLost(t, err)
	})

	if err := t.Open(context.Background()); err != nil {
		m.mu.Lock()
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return err
	}

	m.onOpen(t)
	return nil
}

// onOpen completes a successful handshake: the attempt counter resets,
// the heartbeat starts, all active subscriptions are replayed, and only
// then is the offline queue flushed in original order.
func (m *Manager) onOpen(t Transport) {
	m.mu.Lock()
	if m.state == StateDisconnected || m.state == StateError {
		// Disconnected while the dial was in flight.
		m.mu.Unlock()
		t.Close()
		return
	}
	m.transport = t
	m.state = StateConnected
	m.attempt = 0
	m.lastAck = time.Now()
	m.cancelTimersLocked()
	stop := make(chan struct{})
	m.heartbeatStop = stop

	channels := make([]string, 0, len(m.channelHandlers))
	replayed := make(map[string]struct{}, len(m.channelHandlers))
	for name := range m.channelHandlers {
		channels = append(channels, name)
		replayed[name] = struct{}{}
	}
	sort.Strings(channels)

	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, name := range channels {
		m.sendFrame(t, subscribeFrame(name))
	}
	for _, frame := range queued {
		// A subscribe queued while offline is already covered by the
		// replay above; sending it again would duplicate it on the wire.
		if frame.Command == model.CommandSubscribe {
			if _, ok := replayed[frame.Channel]; ok {
				continue
			}
		}
		m.sendFrame(t, frame)
	}

	go m.heartbeatLoop(t, stop)
}

// transportLost handles an unexpected transport closure. Deliberate
// disconnects and stale transports are ignored.
func (m *Manager) transportLost(t Transport, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transport != t && m.transport != nil {
		return
	}
	if m.state == StateDisconnected || m.state == StateError {
		return
	}
	if err != nil {
		log.Printf("Transport lost: %v", err)
	}
	m.transport = nil
	m.cancelTimersLocked()
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked increments the attempt counter and arms the
// backoff timer, or enters the terminal error state once attempts are
// exhausted. Caller holds the lock.
func (m *Manager) scheduleReconnectLocked() {
	m.attempt++
	if m.attempt > m.maxAttempts {
		m.state = StateError
		return
	}
	m.state = StateReconnecting
	delay := BackoffDelay(m.backoffBase, m.attempt)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.dial()
	})
}

// cancelTimersLocked stops the heartbeat and reconnect timers so no
// state transition leaves a duplicate timer running. Caller holds the
// lock.
func (m *Manager) cancelTimersLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// heartbeatLoop sends a liveness probe every interval and forces a
// reconnect when no acknowledgement is observed within twice the
// interval, guarding against silently-stalled connections that never
// emit a close event.
func (m *Manager) heartbeatLoop(t Transport, stop <-chan struct{}) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			last := m.lastAck
			current := m.transport
			m.mu.Unlock()
			if current != t {
				return
			}
			if time.Since(last) > 2*m.heartbeatInterval {
				t.Close()
				m.transportLost(t, nil)
				return
			}
			m.sendFrame(t, model.NewHeartbeatFrame(time.Now().UnixMilli()))
		}
	}
}

// Subscribe registers a handler for a channel and returns the matching
// unsubscribe function. The first handler for a channel sends the
// subscribe command; the last removal sends unsubscribe. Subscriptions
// are client-authoritative and survive reconnects.
func (m *Manager) Subscribe(channelName string, handler FrameHandler) func() {
	m.mu.Lock()
	m.nextHandlerID++
	id := m.nextHandlerID
	first := len(m.channelHandlers[channelName]) == 0
	m.channelHandlers[channelName] = append(m.channelHandlers[channelName], handlerReg{id: id, fn: handler})
	m.mu.Unlock()

	if first {
		m.sendOrQueue(subscribeFrame(channelName))
	}

	return func() {
		m.mu.Lock()
		regs := m.channelHandlers[channelName]
		for i, reg := range regs {
			if reg.id == id {
				m.channelHandlers[channelName] = append(regs[:i], regs[i+1:]...)
				break
			}
		}
		last := len(m.channelHandlers[channelName]) == 0
		if last {
			delete(m.channelHandlers, channelName)
		}
		m.mu.Unlock()

		if last {
			m.sendOrQueue(&model.Frame{
				Type:    model.FrameTypeCommand,
				Command: model.CommandUnsubscribe,
				Channel: channelName,
			})
		}
	}
}

// On registers a handler for a frame type and returns its removal
// function.
func (m *Manager) On(frameType model.FrameType, handler FrameHandler) func() {
	m.mu.Lock()
	m.nextHandlerID++
	id := m.nextHandlerID
	m.typeHandlers[frameType] = append(m.typeHandlers[frameType], handlerReg{id: id, fn: handler})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		regs := m.typeHandlers[frameType]
		for i, reg := range regs {
			if reg.id == id {
				m.typeHandlers[frameType] = append(regs[:i], regs[i+1:]...)
				break
			}
		}
		if len(m.typeHandlers[frameType]) == 0 {
			delete(m.typeHandlers, frameType)
		}
	}
}

// Publish sends a payload to a channel, queueing it when disconnected.
func (m *Manager) Publish(channelName string, payload json.RawMessage, requestID string) {
	m.sendOrQueue(&model.Frame{
		Type:      model.FrameTypeCommand,
		Command:   model.CommandPublish,
		Channel:   channelName,
		Payload:   payload,
		RequestID: requestID,
	})
}

// sendOrQueue sends the frame on a live connection or queues it for the
// post-reconnect flush, preserving order and at-least-once intent.
func (m *Manager) sendOrQueue(frame *model.Frame) {
	m.mu.Lock()
	t := m.transport
	connected := m.state == StateConnected
	if !connected || t == nil {
		m.queue = append(m.queue, frame)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if !m.sendFrame(t, frame) {
		m.mu.Lock()
		m.queue = append(m.queue, frame)
		m.mu.Unlock()
	}
}

func (m *Manager) sendFrame(t Transport, frame *model.Frame) bool {
	data, err := frame.Encode()
	if err != nil {
		log.Printf("Failed to encode outbound frame: %v", err)
		return true // not retriable, do not queue
	}
	if err := t.Send(data); err != nil {
		log.Printf("Failed to send frame: %v", err)
		return false
	}
	return true
}

// dispatch routes one inbound message: exact channel handlers first,
// then frame-type handlers. A panicking handler must not abort dispatch
// to the rest.
func (m *Manager) dispatch(data []byte) {
	frame, err := model.DecodeFrame(data)
	if err != nil {
		log.Printf("Discarding malformed inbound frame: %v", err)
		return
	}

	if frame.Type == model.FrameTypeHeartbeat {
		m.mu.Lock()
		m.lastAck = time.Now()
		m.mu.Unlock()
	}

	m.mu.Lock()
	var handlers []FrameHandler
	if frame.Channel != "" {
		for _, reg := range m.channelHandlers[frame.Channel] {
			handlers = append(handlers, reg.fn)
		}
	}
	for _, reg := range m.typeHandlers[frame.Type] {
		handlers = append(handlers, reg.fn)
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		invoke(fn, frame)
	}
}

func invoke(fn FrameHandler, frame *model.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Frame handler panicked: %v", r)
		}
	}()
	fn(frame)
}

func subscribeFrame(channelName string) *model.Frame {
	return &model.Frame{
		Type:    model.FrameTypeCommand,
		Command: model.CommandSubscribe,
		Channel: channelName,
	}
}
