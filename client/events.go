package client

import (
	"encoding/json"
	"time"

	"MeetChat/module/chat/model"

	"github.com/pkg/errors"
)

// Frame types pushed by the gateway.
const (
	TypeMessage              = "message"
	TypeVerificationRequired = "VERIFICATION_REQUIRED"
	TypeError                = "error"
	TypePong                 = "pong"
	TypeDiagnostic           = "diagnostic"
)

// Event is one decoded server frame. The set of implementations is closed; switch on the
// concrete type.
type Event interface {
	eventType() string
}

// MessageEvent carries a message appended to one of the user's rooms.
type MessageEvent struct {
	Message model.Message
}

// VerificationRequiredEvent rejects a send from a user without approved verification.
type VerificationRequiredEvent struct {
	Message         string
	ClientMessageID string
}

// ErrorEvent rejects a send; Code is the error reason, e.g. NOT_PARTICIPANT.
type ErrorEvent struct {
	Code            string
	Message         string
	ClientMessageID string
}

type PongEvent struct{}

// DiagnosticEvent answers an action the gateway does not route.
type DiagnosticEvent struct {
	Message string
	Route   string
}

// UnknownEvent keeps frames of a type this client does not know.
type UnknownEvent struct {
	Type string
	Raw  []byte
}

func (MessageEvent) eventType() string              { return TypeMessage }
func (VerificationRequiredEvent) eventType() string { return TypeVerificationRequired }
func (ErrorEvent) eventType() string                { return TypeError }
func (PongEvent) eventType() string                 { return TypePong }
func (DiagnosticEvent) eventType() string           { return TypeDiagnostic }
func (e UnknownEvent) eventType() string            { return e.Type }

type envelope struct {
	Type            string          `json:"type"`
	Data            json.RawMessage `json:"data"`
	Code            string          `json:"code"`
	Message         string          `json:"message"`
	ClientMessageID string          `json:"clientMessageId"`
	Route           string          `json:"route"`
}

type messageData struct {
	MessageID   string            `json:"messageId"`
	ChatRoomID  string            `json:"chatRoomId"`
	SenderID    string            `json:"senderId"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"messageType"`
	CreatedAt   string            `json:"createdAt"`
	Timestamp   int64             `json:"timestamp"`
}

// DecodeEvent parses one text frame.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	switch env.Type {
	case TypeMessage:
		var d messageData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, errors.Wrap(err, "decode message frame")
		}
		return MessageEvent{Message: d.toMessage()}, nil
	case TypeVerificationRequired:
		return VerificationRequiredEvent{Message: env.Message, ClientMessageID: env.ClientMessageID}, nil
	case TypeError:
		return ErrorEvent{Code: env.Code, Message: env.Message, ClientMessageID: env.ClientMessageID}, nil
	case TypePong:
		return PongEvent{}, nil
	case TypeDiagnostic:
		return DiagnosticEvent{Message: env.Message, Route: env.Route}, nil
	default:
		return UnknownEvent{Type: env.Type, Raw: raw}, nil
	}
}

func (d messageData) toMessage() model.Message {
	m := model.Message{
		MessageID:   d.MessageID,
		RoomID:      d.ChatRoomID,
		SenderID:    d.SenderID,
		Content:     d.Content,
		MessageType: d.MessageType,
		ReadBy:      []string{d.SenderID},
		Timestamp:   d.Timestamp,
	}
	if t, err := time.Parse(time.RFC3339Nano, d.CreatedAt); err == nil {
		m.CreatedAt = t
	} else if d.Timestamp > 0 {
		m.CreatedAt = time.UnixMilli(d.Timestamp).UTC()
	}
	if d.Timestamp > 0 {
		m.SequenceKey = model.SequenceKey(d.Timestamp, d.MessageID)
	}
	return m
}
