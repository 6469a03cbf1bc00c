// Package ws multiplexes WebSocket connections for the relay. It assigns
// connection ids, decodes inbound frames, queues outbound frames and tracks
// named broadcast groups.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/watchparty/internal/platform/id"
	"github.com/louisbranch/watchparty/internal/platform/requestctx"
	"github.com/louisbranch/watchparty/internal/platform/timeouts"
)

const (
	defaultSendBuffer         = 256
	defaultMaxFrameBytes      = 1_000_000
	defaultMaxFramesPerSecond = 500
	maxDecodeErrorsPerConn    = 3

	// disconnectEvent is raised by the hub when a socket closes. Clients may
	// not send it.
	disconnectEvent = "disconnect"
)

// EventHandler receives decoded inbound events and disconnects.
type EventHandler interface {
	HandleEvent(ctx context.Context, connectionID, event string, payload json.RawMessage)
	HandleDisconnect(ctx context.Context, connectionID string)
}

// Config tunes per-connection limits.
type Config struct {
	// AllowedOrigin is "*" or a comma-separated list of origins.
	AllowedOrigin      string
	SendBuffer         int
	MaxFrameBytes      int
	MaxFramesPerSecond int
	WriteTimeout       time.Duration
	NewID              func() (string, error)
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.AllowedOrigin) == "" {
		c.AllowedOrigin = "*"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	if c.MaxFramesPerSecond <= 0 {
		c.MaxFramesPerSecond = defaultMaxFramesPerSecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = timeouts.WSWrite
	}
	if c.NewID == nil {
		c.NewID = id.NewID
	}
	return c
}

// Frame is the JSON envelope of every message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub owns the live connections and their group memberships.
type Hub struct {
	cfg Config

	mu     sync.Mutex
	conns  map[string]*conn
	groups map[string]map[string]*conn
	closed bool
}

// NewHub builds a hub; zero config fields take defaults.
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg:    cfg.withDefaults(),
		conns:  make(map[string]*conn),
		groups: make(map[string]map[string]*conn),
	}
}

// Handler returns the WebSocket endpoint delivering events to events.
func (h *Hub) Handler(events EventHandler) http.Handler {
	return websocket.Server{
		Handshake: h.checkOrigin,
		Handler: func(ws *websocket.Conn) {
			h.serve(ws, events)
		},
	}
}

func (h *Hub) checkOrigin(_ *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if !OriginAllowed(h.cfg.AllowedOrigin, origin) {
		return fmt.Errorf("origin %q is not allowed", origin)
	}
	return nil
}

// OriginAllowed reports whether origin matches allowed, which is "*" or a
// comma-separated list.
func OriginAllowed(allowed, origin string) bool {
	if strings.TrimSpace(allowed) == "*" {
		return true
	}
	for _, candidate := range strings.Split(allowed, ",") {
		if strings.EqualFold(strings.TrimSpace(candidate), origin) {
			return true
		}
	}
	return false
}

func (h *Hub) serve(ws *websocket.Conn, events EventHandler) {
	connectionID, err := h.cfg.NewID()
	if err != nil {
		log.Printf("ws: assign connection id: %v", err)
		_ = ws.Close()
		return
	}
	ws.MaxPayloadBytes = h.cfg.MaxFrameBytes

	c := newConn(connectionID, ws, h.cfg.SendBuffer)
	if !h.add(c) {
		c.close()
		return
	}
	go c.writeLoop(h.cfg.WriteTimeout)

	ctx := context.Background()
	if r := ws.Request(); r != nil {
		ctx = r.Context()
	}
	ctx = requestctx.WithConnectionID(ctx, connectionID)

	defer func() {
		h.remove(c)
		c.close()
		events.HandleDisconnect(ctx, connectionID)
	}()

	h.readLoop(ctx, c, events)
}

func (h *Hub) readLoop(ctx context.Context, c *conn, events EventHandler) {
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var data []byte
		if err := websocket.Message.Receive(c.ws, &data); err != nil {
			if err != websocket.ErrFrameTooLarge {
				return
			}
			data = nil
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > h.cfg.MaxFramesPerSecond {
			log.Printf("ws: rate limit exceeded connection=%q", c.id)
			return
		}

		var frame Frame
		if data == nil || json.Unmarshal(data, &frame) != nil || frame.Type == "" {
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				log.Printf("ws: too many invalid frames connection=%q", c.id)
				return
			}
			continue
		}
		decodeErrors = 0

		if frame.Type == disconnectEvent {
			log.Printf("ws: ignoring client disconnect frame connection=%q", c.id)
			continue
		}
		events.HandleEvent(ctx, c.id, frame.Type, frame.Payload)
	}
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
	for name, members := range h.groups {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
}

// Send queues an event for one connection. Unknown ids are dropped.
func (h *Hub) Send(connectionID, event string, payload any) {
	msg, ok := encodeFrame(event, payload)
	if !ok {
		return
	}
	h.mu.Lock()
	c := h.conns[connectionID]
	h.mu.Unlock()
	if c == nil {
		return
	}
	c.enqueue(msg)
}

// Broadcast queues an event for every member of group except the
// connection id in except.
func (h *Hub) Broadcast(group, except, event string, payload any) {
	msg, ok := encodeFrame(event, payload)
	if !ok {
		return
	}
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.groups[group]))
	for connectionID, c := range h.groups[group] {
		if connectionID == except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// JoinGroup adds a live connection to group.
func (h *Hub) JoinGroup(connectionID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.conns[connectionID]
	if c == nil {
		return
	}
	members := h.groups[group]
	if members == nil {
		members = make(map[string]*conn)
		h.groups[group] = members
	}
	members[connectionID] = c
}

// LeaveGroup removes a connection from group.
func (h *Hub) LeaveGroup(connectionID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.groups[group]
	if members == nil {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every live connection and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func encodeFrame(event string, payload any) ([]byte, bool) {
	msg, err := json.Marshal(outboundFrame{Type: event, Payload: payload})
	if err != nil {
		log.Printf("ws: encode event=%q: %v", event, err)
		return nil, false
	}
	return msg, true
}
