package chat

import (
	"encoding/json"
	"time"

	"MeetChat/module/chat/model"
	"MeetChat/tools/decode"
	"MeetChat/tools/errs"

	"github.com/pkg/errors"
)

// Action names an inbound frame. Every frame is `{"action": ..., ...data}`.
type Action string

const (
	ActionSendMessage Action = "sendMessage"
	ActionPing        Action = "ping"
)

// InboundFrame is a decoded client frame; Raw keeps the whole object for per-action decoding.
type InboundFrame struct {
	Action Action
	Raw    map[string]any
}

func ParseFrame(raw []byte) (InboundFrame, error) {
	m, err := decode.Object(raw)
	if err != nil {
		return InboundFrame{}, err
	}
	return InboundFrame{Action: Action(decode.ReadString(m, "action")), Raw: m}, nil
}

// SendMessageFrame is the sendMessage body. Older clients send chatRoomId instead of roomId.
type SendMessageFrame struct {
	RoomID          string `json:"roomId"`
	ChatRoomID      string `json:"chatRoomId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId"`
}

func (f SendMessageFrame) Room() string {
	if f.RoomID != "" {
		return f.RoomID
	}
	return f.ChatRoomID
}

// Outbound frame types, carried in the "type" field.
const (
	TypeMessage              = "message"
	TypeVerificationRequired = "VERIFICATION_REQUIRED"
	TypeError                = "error"
	TypePong                 = "pong"
	TypeDiagnostic           = "diagnostic"
)

type MessagePayload struct {
	MessageID   string            `json:"messageId"`
	ChatRoomID  string            `json:"chatRoomId"`
	SenderID    string            `json:"senderId"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"messageType"`
	CreatedAt   string            `json:"createdAt"`
	Timestamp   int64             `json:"timestamp"`
}

type MessageFrame struct {
	Type string         `json:"type"`
	Data MessagePayload `json:"data"`
}

func NewMessageFrame(m *model.Message) MessageFrame {
	return MessageFrame{
		Type: TypeMessage,
		Data: MessagePayload{
			MessageID:   m.MessageID,
			ChatRoomID:  m.RoomID,
			SenderID:    m.SenderID,
			Content:     m.Content,
			MessageType: m.MessageType,
			CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339Nano),
			Timestamp:   m.Timestamp,
		},
	}
}

type ErrorFrame struct {
	Type            string `json:"type"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type VerificationRequiredFrame struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type PongFrame struct {
	Type string `json:"type"`
}

type DiagnosticFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Route   string `json:"route"`
}

// RejectionFrame turns a failed request into the frame sent back to the origin connection.
// Unclassified errors are reported as INTERNAL_ERROR without their text.
func RejectionFrame(err error, clientMessageID string) any {
	ce := errs.ToCode(err)
	if errors.Is(err, errs.ErrVerificationRequired) {
		return VerificationRequiredFrame{Type: TypeVerificationRequired, Message: ce.Msg, ClientMessageID: clientMessageID}
	}
	return ErrorFrame{
		Type:            TypeError,
		Code:            ce.Reason,
		Message:         ce.Msg,
		ClientMessageID: clientMessageID,
	}
}

func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return b, nil
}
