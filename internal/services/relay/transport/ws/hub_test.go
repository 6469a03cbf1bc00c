package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/watchparty/internal/platform/requestctx"
)

type inboundEvent struct {
	connectionID string
	contextID    string
	event        string
	payload      json.RawMessage
}

// recordingHandler forwards every event and disconnect to channels. The
// "join" event puts the sender in the group named by its payload.
type recordingHandler struct {
	hub         *Hub
	events      chan inboundEvent
	disconnects chan string
}

func newRecordingHandler(hub *Hub) *recordingHandler {
	return &recordingHandler{
		hub:         hub,
		events:      make(chan inboundEvent, 16),
		disconnects: make(chan string, 16),
	}
}

func (r *recordingHandler) HandleEvent(ctx context.Context, connectionID, event string, payload json.RawMessage) {
	if event == "join" {
		var group string
		_ = json.Unmarshal(payload, &group)
		r.hub.JoinGroup(connectionID, group)
	}
	r.events <- inboundEvent{
		connectionID: connectionID,
		contextID:    requestctx.ConnectionIDFromContext(ctx),
		event:        event,
		payload:      payload,
	}
}

func (r *recordingHandler) HandleDisconnect(_ context.Context, connectionID string) {
	r.disconnects <- connectionID
}

func sequentialIDs() func() (string, error) {
	var n atomic.Int64
	return func() (string, error) {
		return "conn-" + string(rune('a'+n.Add(1)-1)), nil
	}
}

func startHub(t *testing.T, cfg Config) (*Hub, *recordingHandler, *httptest.Server) {
	t.Helper()
	if cfg.NewID == nil {
		cfg.NewID = sequentialIDs()
	}
	hub := NewHub(cfg)
	handler := newRecordingHandler(hub)
	srv := httptest.NewServer(hub.Handler(handler))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, handler, srv
}

func dial(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	conn, err := dialErr(srv, origin)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func dialErr(srv *httptest.Server, origin string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	if origin == "" {
		origin = srv.URL
	}
	return websocket.Dial(wsURL, "", origin)
}

func send(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	if err := websocket.JSON.Send(conn, frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := websocket.JSON.Receive(conn, &frame); err != nil {
		t.Fatalf("receive frame: %v", err)
	}
	return frame
}

func waitEvent(t *testing.T, handler *recordingHandler) inboundEvent {
	t.Helper()
	select {
	case ev := <-handler.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return inboundEvent{}
	}
}

func waitDisconnect(t *testing.T, handler *recordingHandler) string {
	t.Helper()
	select {
	case id := <-handler.disconnects:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect")
		return ""
	}
}

func TestInboundFramesReachHandler(t *testing.T) {
	_, handler, srv := startHub(t, Config{})
	conn := dial(t, srv, "")

	send(t, conn, map[string]any{"type": "ping", "payload": map[string]string{"a": "b"}})
	ev := waitEvent(t, handler)
	if ev.event != "ping" {
		t.Fatalf("event = %q, want %q", ev.event, "ping")
	}
	if ev.connectionID != "conn-a" || ev.contextID != "conn-a" {
		t.Fatalf("connection = %q ctx = %q, want conn-a", ev.connectionID, ev.contextID)
	}
	if string(ev.payload) != `{"a":"b"}` {
		t.Fatalf("payload = %s", ev.payload)
	}
}

func TestSendAndBroadcast(t *testing.T) {
	hub, handler, srv := startHub(t, Config{})
	first := dial(t, srv, "")
	send(t, first, map[string]any{"type": "join", "payload": "room"})
	waitEvent(t, handler)
	second := dial(t, srv, "")
	send(t, second, map[string]any{"type": "join", "payload": "room"})
	waitEvent(t, handler)

	hub.Send("conn-b", "direct", map[string]string{"hello": "b"})
	got := receive(t, second)
	if got.Type != "direct" || string(got.Payload) != `{"hello":"b"}` {
		t.Fatalf("direct frame = %+v", got)
	}

	hub.Send("missing", "direct", nil)
	hub.Broadcast("room", "conn-a", "others", map[string]int{"n": 1})
	if got := receive(t, second); got.Type != "others" {
		t.Fatalf("second frame = %q, want others", got.Type)
	}

	hub.Broadcast("room", "", "everyone", map[string]int{"n": 2})
	if got := receive(t, first); got.Type != "everyone" {
		t.Fatalf("first frame = %q, want everyone", got.Type)
	}
	if got := receive(t, second); got.Type != "everyone" {
		t.Fatalf("second frame = %q, want everyone", got.Type)
	}

	hub.LeaveGroup("conn-b", "room")
	hub.Broadcast("room", "", "after-leave", nil)
	if got := receive(t, first); got.Type != "after-leave" {
		t.Fatalf("first frame = %q, want after-leave", got.Type)
	}
	hub.Send("conn-b", "direct-again", nil)
	if got := receive(t, second); got.Type != "direct-again" {
		t.Fatalf("second frame = %q, want direct-again after leaving the group", got.Type)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	hub, handler, srv := startHub(t, Config{})
	conn := dial(t, srv, "")
	send(t, conn, map[string]any{"type": "join", "payload": "room"})
	waitEvent(t, handler)

	_ = conn.Close()
	if id := waitDisconnect(t, handler); id != "conn-a" {
		t.Fatalf("disconnect = %q, want conn-a", id)
	}
	if hub.Len() != 0 {
		t.Fatalf("len = %d, want 0", hub.Len())
	}
	hub.mu.Lock()
	groups := len(hub.groups)
	hub.mu.Unlock()
	if groups != 0 {
		t.Fatalf("groups = %d, want 0", groups)
	}
}

func TestInvalidFramesCloseConnection(t *testing.T) {
	_, handler, srv := startHub(t, Config{})
	conn := dial(t, srv, "")

	for range maxDecodeErrorsPerConn {
		if err := websocket.Message.Send(conn, "{not json"); err != nil {
			t.Fatalf("send invalid frame: %v", err)
		}
	}
	if id := waitDisconnect(t, handler); id != "conn-a" {
		t.Fatalf("disconnect = %q, want conn-a", id)
	}
	select {
	case ev := <-handler.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestValidFrameResetsDecodeBudget(t *testing.T) {
	_, handler, srv := startHub(t, Config{})
	conn := dial(t, srv, "")

	for range maxDecodeErrorsPerConn - 1 {
		_ = websocket.Message.Send(conn, "nope")
	}
	send(t, conn, map[string]any{"type": "ok"})
	waitEvent(t, handler)
	for range maxDecodeErrorsPerConn - 1 {
		_ = websocket.Message.Send(conn, "nope")
	}
	send(t, conn, map[string]any{"type": "still-ok"})
	if ev := waitEvent(t, handler); ev.event != "still-ok" {
		t.Fatalf("event = %q, want still-ok", ev.event)
	}
}

func TestClientDisconnectFrameIgnored(t *testing.T) {
	_, handler, srv := startHub(t, Config{})
	conn := dial(t, srv, "")

	for range maxDecodeErrorsPerConn + 1 {
		send(t, conn, map[string]any{"type": disconnectEvent})
	}
	send(t, conn, map[string]any{"type": "after"})
	if ev := waitEvent(t, handler); ev.event != "after" {
		t.Fatalf("event = %q, want after", ev.event)
	}
	select {
	case id := <-handler.disconnects:
		t.Fatalf("unexpected disconnect for %q", id)
	default:
	}
}

func TestOversizedFramesCountAsInvalid(t *testing.T) {
	_, handler, srv := startHub(t, Config{MaxFrameBytes: 64})
	conn := dial(t, srv, "")

	big := map[string]any{"type": "big", "payload": strings.Repeat("x", 128)}
	for range maxDecodeErrorsPerConn {
		send(t, conn, big)
	}
	if id := waitDisconnect(t, handler); id != "conn-a" {
		t.Fatalf("disconnect = %q, want conn-a", id)
	}
}

func TestRateLimitClosesConnection(t *testing.T) {
	_, handler, srv := startHub(t, Config{MaxFramesPerSecond: 2})
	conn := dial(t, srv, "")

	for range 3 {
		send(t, conn, map[string]any{"type": "tick"})
	}
	waitEvent(t, handler)
	waitEvent(t, handler)
	if id := waitDisconnect(t, handler); id != "conn-a" {
		t.Fatalf("disconnect = %q, want conn-a", id)
	}
}

func TestOriginCheck(t *testing.T) {
	_, _, srv := startHub(t, Config{AllowedOrigin: "https://watch.example, https://other.example"})

	if _, err := dialErr(srv, "https://evil.example"); err == nil {
		t.Fatal("expected disallowed origin to fail")
	}
	conn, err := dialErr(srv, "https://other.example")
	if err != nil {
		t.Fatalf("dial allowed origin: %v", err)
	}
	_ = conn.Close()
}

func TestHandshakeRejectsPlainHTTP(t *testing.T) {
	_, _, srv := startHub(t, Config{})
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusSwitchingProtocols || resp.StatusCode == http.StatusOK {
		t.Fatalf("status = %d, want handshake failure", resp.StatusCode)
	}
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	hub, handler, srv := startHub(t, Config{})
	for range 3 {
		send(t, dial(t, srv, ""), map[string]any{"type": "hello"})
		waitEvent(t, handler)
	}

	hub.Close()
	for range 3 {
		waitDisconnect(t, handler)
	}
	if hub.Len() != 0 {
		t.Fatalf("len = %d, want 0", hub.Len())
	}

	late, err := dialErr(srv, "")
	if err == nil {
		defer late.Close()
		_ = late.SetReadDeadline(time.Now().Add(time.Second))
		var frame Frame
		if err := websocket.JSON.Receive(late, &frame); err == nil {
			t.Fatalf("closed hub delivered frame %+v", frame)
		}
	}
	if hub.Len() != 0 {
		t.Fatalf("closed hub registered a connection")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	c := newConn("c", nil, 1)
	if !c.enqueue([]byte("one")) {
		t.Fatal("expected first enqueue to succeed")
	}
	if c.enqueue([]byte("two")) {
		t.Fatal("expected full queue to drop")
	}
	close(c.done)
	<-c.send
	if c.enqueue([]byte("three")) {
		t.Fatal("expected closed conn to drop")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.AllowedOrigin != "*" {
		t.Fatalf("origin = %q, want *", cfg.AllowedOrigin)
	}
	if cfg.SendBuffer != defaultSendBuffer || cfg.MaxFrameBytes != defaultMaxFrameBytes || cfg.MaxFramesPerSecond != defaultMaxFramesPerSecond {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.NewID == nil || cfg.WriteTimeout <= 0 {
		t.Fatalf("defaults = %+v", cfg)
	}
}
