package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	TypeCall  = "call"
	TypeRes   = "res"
	TypeState = "state"
	TypeEvent = "event"
)

type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateSnapshot is the payload of a "state" frame.
type StateSnapshot struct {
	Version uint64          `json:"version"`
	State   json.RawMessage `json:"state"`
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Decode parses one frame and rejects frames without a known type.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	switch msg.Type {
	case TypeCall, TypeRes:
		if strings.TrimSpace(msg.ID) == "" {
			return Message{}, errors.New("missing id")
		}
	case TypeState, TypeEvent:
	default:
		return Message{}, errors.New("unknown message type: " + msg.Type)
	}
	return msg, nil
}

// Reply builds the "res" frame answering call.
func Reply(call Message, payload any) Message {
	return Message{ID: call.ID, Type: TypeRes, Op: call.Op, Payload: MustRaw(payload)}
}

// ReplyError builds a failed "res" frame answering call.
func ReplyError(call Message, code, message string) Message {
	return Message{
		ID:      call.ID,
		Type:    TypeRes,
		Op:      call.Op,
		Payload: json.RawMessage("null"),
		Error:   &ErrPayload{Code: code, Message: message},
	}
}
