package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message types carried in the "type" field of every presence frame.
const (
	TypeJoin        = "join"
	TypeStateUpdate = "state_update"
	TypeActivity    = "activity"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeUsersList   = "users_list"
	TypeUserJoined  = "user_joined"
	TypeUserLeft    = "user_left"
)

// Frame is an inbound application frame after structural validation.
type Frame struct {
	Type  string
	State json.RawMessage
}

// inboundFrame reads only the envelope of a post-join frame. Every other
// field is relayed untouched, whatever its type.
type inboundFrame struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

type joinFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	UserID   string `json:"user_id"`
	Color    string `json:"color"`
}

type userJoinedEvent struct {
	Type string   `json:"type"`
	User Presence `json:"user"`
}

type userLeftEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type usersListEvent struct {
	Type  string     `json:"type"`
	Users []Presence `json:"users"`
}

type stateUpdateEvent struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

var pongFrame = []byte(`{"type":"pong"}`)

// ParseJoin validates the first frame of a presence connection. Anything
// other than a well-formed join carrying a username is a protocol violation.
func ParseJoin(raw []byte) (Presence, error) {
	var msg joinFrame
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Presence{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if msg.Type != TypeJoin {
		return Presence{}, fmt.Errorf("%w: expected %q frame, got %q", ErrProtocolViolation, TypeJoin, msg.Type)
	}
	username := strings.TrimSpace(msg.Username)
	if username == "" {
		return Presence{}, fmt.Errorf("%w: join without username", ErrProtocolViolation)
	}
	return Presence{
		Username: username,
		UserID:   strings.TrimSpace(msg.UserID),
		Color:    strings.TrimSpace(msg.Color),
	}, nil
}

// ParseFrame validates a frame received after the join handshake. Unknown
// types parse successfully; the caller decides to ignore them.
func ParseFrame(raw []byte) (Frame, error) {
	var msg inboundFrame
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.Type == TypeStateUpdate && isNullOrEmpty(msg.State) {
		return Frame{}, fmt.Errorf("%w: state_update without state", ErrMalformedPayload)
	}
	return Frame{Type: msg.Type, State: msg.State}, nil
}

// ParseLegacyState validates a raw whiteboard-state frame from the legacy
// relay, which has no envelope.
func ParseLegacyState(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) || isNullOrEmpty(trimmed) {
		return nil, fmt.Errorf("%w: legacy frame is not a JSON document", ErrMalformedPayload)
	}
	return append(json.RawMessage(nil), trimmed...), nil
}

// PongFrame returns the reply to an application-level ping.
func PongFrame() []byte {
	return append([]byte(nil), pongFrame...)
}

// WrapState wraps a bare state blob in a state_update envelope.
func WrapState(state json.RawMessage) []byte {
	return encodeEvent(stateUpdateEvent{Type: TypeStateUpdate, State: state})
}

func encodeUserJoined(p Presence) []byte {
	return encodeEvent(userJoinedEvent{Type: TypeUserJoined, User: p})
}

func encodeUserLeft(userID string) []byte {
	return encodeEvent(userLeftEvent{Type: TypeUserLeft, UserID: userID})
}

func encodeUsersList(users []Presence) []byte {
	if users == nil {
		users = []Presence{}
	}
	return encodeEvent(usersListEvent{Type: TypeUsersList, Users: users})
}

// encodeEvent marshals server-built events. They contain only strings and
// already-validated raw JSON, so marshalling cannot fail.
func encodeEvent(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func isNullOrEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
