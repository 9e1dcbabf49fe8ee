package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-event-relay/backend/internal/model"
	"github.com/agent-event-relay/backend/internal/ratelimit"
)

func startTestHub(t *testing.T, limiter *ratelimit.Limiter, auth AuthFunc) (*Registry, *httptest.Server) {
	t.Helper()
	registry := NewRegistry(nil, 0)
	handler := NewHandler(registry, limiter, auth)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.HandleConnection(w, r)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(registry.Close)
	return registry, srv
}

func dialTestHub(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		wsURL += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrameTest(t *testing.T, conn *websocket.Conn, frame *model.Frame) {
	t.Helper()
	data, err := frame.Encode()
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}
}

func readFrameTest(t *testing.T, conn *websocket.Conn, timeout time.Duration) *model.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	frame, err := model.DecodeFrame(data)
	if err != nil {
		t.Fatalf("received malformed frame: %v", err)
	}
	return frame
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestSubscribePublishRoundTrip(t *testing.T) {
	registry, srv := startTestHub(t, nil, nil)

	publisher := dialTestHub(t, srv, "")
	subscriber := dialTestHub(t, srv, "")

	subscribe := &model.Frame{Type: model.FrameTypeCommand, Command: model.CommandSubscribe, Channel: "team_42"}
	sendFrameTest(t, publisher, subscribe)
	sendFrameTest(t, subscriber, subscribe)
	waitUntil(t, time.Second, func() bool { return registry.MemberCount("team_42") == 2 })

	sendFrameTest(t, publisher, &model.Frame{
		Type:      model.FrameTypeCommand,
		Command:   model.CommandPublish,
		Channel:   "team_42",
		Payload:   json.RawMessage(`{"step":3}`),
		RequestID: "req-1",
	})

	for _, conn := range []*websocket.Conn{publisher, subscriber} {
		frame := readFrameTest(t, conn, time.Second)
		if frame.Type != model.FrameTypeData || frame.Channel != "team_42" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
		if string(frame.Payload) != `{"step":3}` {
			t.Errorf("payload not preserved: %s", frame.Payload)
		}
		if frame.RequestID != "req-1" {
			t.Errorf("request id not preserved: %q", frame.RequestID)
		}
	}
}

func TestHeartbeatEcho(t *testing.T) {
	_, srv := startTestHub(t, nil, nil)
	conn := dialTestHub(t, srv, "")

	sent := time.Now().UnixMilli()
	sendFrameTest(t, conn, model.NewHeartbeatFrame(sent))

	frame := readFrameTest(t, conn, time.Second)
	if frame.Type != model.FrameTypeHeartbeat {
		t.Fatalf("expected heartbeat, got %s", frame.Type)
	}
	if frame.Timestamp != sent {
		t.Errorf("expected echoed timestamp %d, got %d", sent, frame.Timestamp)
	}
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	_, srv := startTestHub(t, nil, nil)
	conn := dialTestHub(t, srv, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("failed to send garbage: %v", err)
	}

	// The connection survives and still answers heartbeats.
	sendFrameTest(t, conn, model.NewHeartbeatFrame(1))
	frame := readFrameTest(t, conn, time.Second)
	if frame.Type != model.FrameTypeHeartbeat {
		t.Fatalf("expected heartbeat after garbage, got %s", frame.Type)
	}
}

func TestUnknownCommandReturnsErrorFrame(t *testing.T) {
	_, srv := startTestHub(t, nil, nil)
	conn := dialTestHub(t, srv, "")

	sendFrameTest(t, conn, &model.Frame{Type: model.FrameTypeCommand, Command: "explode"})

	frame := readFrameTest(t, conn, time.Second)
	if frame.Type != model.FrameTypeError || frame.Code != "unknown_command" {
		t.Fatalf("expected unknown_command error frame, got %+v", frame)
	}
}

func TestRateLimitDisconnectClosesConnection(t *testing.T) {
	limiter := ratelimit.NewLimiter(time.Minute)
	if _, err := limiter.Upsert(&model.RateLimitRule{
		Name:          "strict",
		Scope:         model.ScopeUser,
		Limit:         1,
		WindowSeconds: 60,
		Action:        model.ActionDisconnect,
		Enabled:       true,
	}); err != nil {
		t.Fatalf("failed to add rule: %v", err)
	}

	auth := func(token string) (string, error) { return token, nil }
	registry, srv := startTestHub(t, limiter, auth)

	conn := dialTestHub(t, srv, "u1")
	waitUntil(t, time.Second, func() bool { return registry.SessionCount() == 1 })

	publish := &model.Frame{Type: model.FrameTypeCommand, Command: model.CommandPublish, Channel: "team_42", Payload: json.RawMessage(`{}`)}
	sendFrameTest(t, conn, publish)
	sendFrameTest(t, conn, publish)

	waitUntil(t, time.Second, func() bool { return registry.SessionCount() == 0 })

	// The server closes the socket; the next read fails.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestBlockedTargetRejectedBeforeUpgrade(t *testing.T) {
	limiter := ratelimit.NewLimiter(time.Minute)
	if _, err := limiter.Upsert(&model.RateLimitRule{
		Name:          "banhammer",
		Scope:         model.ScopeUser,
		Limit:         1,
		WindowSeconds: 60,
		Action:        model.ActionBlock,
		Enabled:       true,
	}); err != nil {
		t.Fatalf("failed to add rule: %v", err)
	}

	auth := func(token string) (string, error) { return token, nil }
	registry, srv := startTestHub(t, limiter, auth)

	conn := dialTestHub(t, srv, "u1")
	publish := &model.Frame{Type: model.FrameTypeCommand, Command: model.CommandPublish, Channel: "team_42", Payload: json.RawMessage(`{}`)}
	sendFrameTest(t, conn, publish)
	sendFrameTest(t, conn, publish)
	waitUntil(t, time.Second, func() bool { return registry.SessionCount() == 0 })

	// The same user is refused before the upgrade while the cooldown
	// lasts; others still get in.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=u1"
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("expected handshake to be refused for blocked user")
	}

	other := dialTestHub(t, srv, "u2")
	sendFrameTest(t, other, model.NewHeartbeatFrame(1))
	if frame := readFrameTest(t, other, time.Second); frame.Type != model.FrameTypeHeartbeat {
		t.Fatalf("expected heartbeat for unblocked user, got %s", frame.Type)
	}
}
