package sdk

import (
	"encoding/json"
	"fmt"
)

// Message types. GetUserInfo and Ping flow from games to the launcher; the
// rest flow the other way.
const (
	TypeGetUserInfo           = "GetUserInfo"
	TypePing                  = "Ping"
	TypeUserInfo              = "UserInfo"
	TypePong                  = "Pong"
	TypeError                 = "Error"
	TypeUserUpdated           = "UserUpdated"
	TypeConnectionEstablished = "ConnectionEstablished"
)

// ErrorMessageNotLoggedIn is sent when a game asks for user info before the
// launcher has set any.
const ErrorMessageNotLoggedIn = "User not logged in"

// Message is one frame on the wire: {"type": "...", "data": ...}. Data is
// absent for types that carry no payload.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UserInfo is the signed-in launcher user shared with every game.
type UserInfo struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	Level      uint32  `json:"level"`
	XP         uint32  `json:"xp"`
	XPRequired uint32  `json:"xp_required"`
	Avatar     *string `json:"avatar"`
}

type ErrorData struct {
	Message string `json:"message"`
}

type ConnectionEstablishedData struct {
	SessionID string `json:"session_id"`
}

// NewMessage encodes data as the payload of a typ message. A nil data
// produces a message without payload.
func NewMessage(typ string, data any) (Message, error) {
	msg := Message{Type: typ}
	if data == nil {
		return msg, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}

	msg.Data = raw

	return msg, nil
}

// mustMessage is for payload types that always encode.
func mustMessage(typ string, data any) Message {
	msg, err := NewMessage(typ, data)
	if err != nil {
		panic(err)
	}

	return msg
}

func userInfoMessage(typ string, info UserInfo) Message {
	return mustMessage(typ, info)
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s has no payload", m.Type)
	}

	return json.Unmarshal(m.Data, v)
}

// knownInbound bounds the message type label on metrics.
func knownInbound(typ string) string {
	switch typ {
	case TypeGetUserInfo, TypePing:
		return typ
	default:
		return "unknown"
	}
}
