// Package signaling implements the room relay: presence events, chat and
// directed forwarding of peer negotiation messages.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/watchparty/internal/platform/requestctx"
	"github.com/louisbranch/watchparty/internal/services/relay/presence"
)

const (
	tracerName = "github.com/louisbranch/watchparty/internal/services/relay/signaling"

	// TimestampLayout is the format of server-assigned chat timestamps.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

	outcomeApplied = "applied"
	outcomeIgnored = "ignored"
)

var errEmptyPayload = errors.New("empty payload")

// Transport delivers outbound events and tracks group membership.
// Implementations must not block on network I/O.
type Transport interface {
	// Send delivers an event to one connection. Unknown ids are dropped.
	Send(connectionID, event string, payload any)
	// Broadcast delivers an event to every member of group except the
	// connection id in except. An empty except reaches everyone.
	Broadcast(group, except, event string, payload any)
	JoinGroup(connectionID, group string)
	LeaveGroup(connectionID, group string)
}

// Relay handles inbound events for all connections.
type Relay struct {
	mu        sync.Mutex
	registry  *presence.Registry
	transport Transport
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithTracerProvider sets the provider used for per-event spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(r *Relay) {
		if provider != nil {
			r.tracer = provider.Tracer(tracerName)
		}
	}
}

// WithClock overrides the clock used for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a relay over registry and transport.
func New(registry *presence.Registry, transport Transport, opts ...Option) *Relay {
	r := &Relay{
		registry:  registry,
		transport: transport,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent applies one inbound event from connectionID, falling back to
// the connection id carried by ctx. Invalid events are ignored.
func (r *Relay) HandleEvent(ctx context.Context, connectionID, event string, payload json.RawMessage) {
	if ctx == nil {
		ctx = context.Background()
	}
	if connectionID == "" {
		connectionID = requestctx.ConnectionIDFromContext(ctx)
	}
	_, span := r.tracer.Start(ctx, "relay."+event, trace.WithAttributes(
		attribute.String("relay.connection_id", connectionID),
	))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		roomID string
		err    error
	)
	switch event {
	case EventJoinRoom:
		roomID, err = r.joinRoom(connectionID, payload)
	case EventLeaveRoom:
		roomID, err = r.removeParticipant(connectionID)
	case EventOffer, EventAnswer, EventICECandidate:
		err = r.forwardSignal(connectionID, event, payload)
	case EventSendMessage:
		roomID, err = r.sendMessage(connectionID, payload)
	case EventDisconnect:
		roomID, err = r.removeParticipant(connectionID)
	default:
		err = fmt.Errorf("unknown event")
	}

	if roomID != "" {
		span.SetAttributes(attribute.String("relay.room_id", roomID))
	}
	if err != nil {
		span.SetAttributes(attribute.String("relay.outcome", outcomeIgnored))
		log.Printf("relay: ignored event=%q connection=%q reason=%q", event, connectionID, err.Error())
		return
	}
	span.SetAttributes(attribute.String("relay.outcome", outcomeApplied))
}

// HandleDisconnect removes a closed connection from its room.
func (r *Relay) HandleDisconnect(ctx context.Context, connectionID string) {
	r.HandleEvent(ctx, connectionID, EventDisconnect, nil)
}

func (r *Relay) joinRoom(connectionID string, payload json.RawMessage) (string, error) {
	var in joinRoomPayload
	if err := decodePayload(payload, &in); err != nil {
		return "", err
	}
	p := presence.Participant{
		ConnectionID: connectionID,
		UserID:       opaqueString(in.UserID),
		Username:     opaqueString(in.Username),
		RoomID:       opaqueString(in.RoomID),
	}

	// A re-join without leave moves group membership but announces nothing
	// to the previous room.
	if prior, ok := r.registry.Lookup(connectionID); ok && prior.RoomID != p.RoomID {
		r.transport.LeaveGroup(connectionID, prior.RoomID)
	}

	existing := r.registry.Join(connectionID, p)
	r.transport.JoinGroup(connectionID, p.RoomID)
	r.transport.Broadcast(p.RoomID, connectionID, EventUserConnected, UserConnected{
		UserID:       p.UserID,
		Username:     p.Username,
		ConnectionID: connectionID,
	})
	r.transport.Send(connectionID, EventExistingUsers, existingUsers(existing))
	return p.RoomID, nil
}

func (r *Relay) removeParticipant(connectionID string) (string, error) {
	p, ok := r.registry.Remove(connectionID)
	if !ok {
		return "", errors.New("connection is not in a room")
	}
	r.transport.Broadcast(p.RoomID, connectionID, EventUserDisconnected, UserDisconnected{
		ConnectionID: connectionID,
		UserID:       p.UserID,
	})
	r.transport.LeaveGroup(connectionID, p.RoomID)
	return p.RoomID, nil
}

func (r *Relay) forwardSignal(connectionID, event string, payload json.RawMessage) error {
	var in signalPayload
	if err := decodePayload(payload, &in); err != nil {
		return err
	}
	target := opaqueString(in.Target)
	if target == "" {
		return errors.New("missing target")
	}

	out := SignalForward{Sender: connectionID}
	switch event {
	case EventOffer:
		out.Offer = in.Offer
	case EventAnswer:
		out.Answer = in.Answer
	case EventICECandidate:
		out.Candidate = in.Candidate
	}
	r.transport.Send(target, event, out)
	return nil
}

func (r *Relay) sendMessage(connectionID string, payload json.RawMessage) (string, error) {
	var in sendMessagePayload
	if err := decodePayload(payload, &in); err != nil {
		return "", err
	}
	roomID := opaqueString(in.RoomID)
	sender, ok := r.registry.Lookup(connectionID)
	if !ok {
		return roomID, errors.New("sender is not in a room")
	}
	if sender.RoomID != roomID {
		return roomID, errors.New("sender is in a different room")
	}

	timestamp := in.Timestamp
	if falsy(timestamp) {
		generated, err := json.Marshal(r.now().UTC().Format(TimestampLayout))
		if err != nil {
			return roomID, fmt.Errorf("encode timestamp: %w", err)
		}
		timestamp = generated
	}
	r.transport.Broadcast(sender.RoomID, "", EventReceiveMessage, ReceiveMessage{
		Text:      in.Text,
		SenderID:  sender.UserID,
		Username:  sender.Username,
		Timestamp: timestamp,
	})
	return sender.RoomID, nil
}

func decodePayload(payload json.RawMessage, target any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errEmptyPayload
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
