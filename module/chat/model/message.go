package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

type MessageType string

const (
	MessageUser   MessageType = "user"
	MessageSystem MessageType = "system"
)

const (
	MessageTableName = "chat_message"

	MessageFieldMessageID   = "message_id"
	MessageFieldRoomID      = "room_id"
	MessageFieldSenderID    = "sender_id"
	MessageFieldReadBy      = "read_by"
	MessageFieldTimestamp   = "timestamp"
	MessageFieldSequenceKey = "sequence_key"

	MaxContentLen = 5000

	// HistoryLimit is the number of recent messages returned with a room.
	HistoryLimit = 50
)

// Message is immutable once appended; only ReadBy grows.
type Message struct {
	MessageID   string      `bson:"message_id" json:"messageId"`
	RoomID      string      `bson:"room_id" json:"chatRoomId"`
	SenderID    string      `bson:"sender_id" json:"senderId"`
	Content     string      `bson:"content" json:"content"`
	MessageType MessageType `bson:"message_type" json:"messageType"`
	ReadBy      []string    `bson:"read_by" json:"readBy"`
	CreatedAt   time.Time   `bson:"created_at" json:"createdAt"`
	Timestamp   int64       `bson:"timestamp" json:"timestamp"` // epoch ms, server assigned
	SequenceKey string      `bson:"sequence_key" json:"sequenceKey,omitempty"`
}

// NewMessage stamps a user message at ts; the sender has read it.
func NewMessage(messageID, roomID, senderID, content string, ts time.Time) *Message {
	m := &Message{
		MessageID:   messageID,
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: MessageUser,
		ReadBy:      []string{senderID},
	}
	m.Stamp(ts.UnixMilli())
	return m
}

// Stamp sets the server time fields and the sequence key from epoch milliseconds.
func (m *Message) Stamp(ms int64) {
	m.Timestamp = ms
	m.CreatedAt = time.UnixMilli(ms).UTC()
	m.SequenceKey = SequenceKey(ms, m.MessageID)
}

// SequenceKey orders messages within a room: zero padded milliseconds, then message id.
// Lexical order of keys equals (timestamp, messageId) order.
func SequenceKey(ms int64, messageID string) string {
	return fmt.Sprintf("%013d#%s", ms, messageID)
}

// ParseSequenceKey splits a key built by SequenceKey.
func ParseSequenceKey(key string) (int64, string, error) {
	ts, id, ok := strings.Cut(key, "#")
	if !ok {
		return 0, "", fmt.Errorf("malformed sequence key %q", key)
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed sequence key %q: %w", key, err)
	}
	return ms, id, nil
}

// MarkRead adds userID to ReadBy and reports whether it changed.
func (m *Message) MarkRead(userID string) bool {
	if lo.Contains(m.ReadBy, userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// ValidContent reports whether content is non-blank and at most MaxContentLen runes.
func ValidContent(content string) bool {
	return strings.TrimSpace(content) != "" && utf8.RuneCountInString(content) <= MaxContentLen
}
