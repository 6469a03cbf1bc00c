package signaling

import (
	"bytes"
	"encoding/json"

	"github.com/louisbranch/watchparty/internal/services/relay/presence"
)

// Inbound event names.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventSendMessage  = "send-message"
	EventDisconnect   = "disconnect"
)

// Outbound event names.
const (
	EventUserConnected    = "user-connected"
	EventExistingUsers    = "existing-users"
	EventReceiveMessage   = "receive-message"
	EventUserDisconnected = "user-disconnected"
)

// Identifier fields stay raw so any JSON scalar is accepted as an opaque
// string.
type joinRoomPayload struct {
	RoomID   json.RawMessage `json:"roomId"`
	UserID   json.RawMessage `json:"userId"`
	Username json.RawMessage `json:"username"`
}

type signalPayload struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Target    json.RawMessage `json:"target"`
}

type sendMessagePayload struct {
	Text      json.RawMessage `json:"text"`
	RoomID    json.RawMessage `json:"roomId"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// UserConnected announces a new room member to the others.
type UserConnected struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

// ExistingUser is one element of the existing-users snapshot.
type ExistingUser struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	RoomID       string `json:"roomId"`
}

// SignalForward carries an opaque negotiation message to its target.
// Exactly one of Offer, Answer or Candidate is set, matching the event name.
type SignalForward struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Sender    string          `json:"sender"`
}

// ReceiveMessage is a chat line broadcast to a room. Text and Timestamp are
// the sender's JSON values, passed through unchanged.
type ReceiveMessage struct {
	Text      json.RawMessage `json:"text,omitempty"`
	SenderID  string          `json:"senderId"`
	Username  string          `json:"username"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// UserDisconnected tells a room that a member left.
type UserDisconnected struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

func existingUsers(members []presence.Participant) []ExistingUser {
	users := make([]ExistingUser, 0, len(members))
	for _, m := range members {
		users = append(users, ExistingUser(m))
	}
	return users
}

// opaqueString returns a JSON string's value, or the compact JSON text of
// any other value. Missing and null values become "".
func opaqueString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var value string
	if err := json.Unmarshal(trimmed, &value); err == nil {
		return value
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

// falsy reports whether raw is absent, null, false, 0 or "".
func falsy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return false
	}
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case float64:
		return v == 0
	}
	return false
}
