package model

import (
	"time"

	"github.com/samber/lo"
)

type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
)

const (
	RoomTableName          = "chat_room"
	ParticipationTableName = "chat_participation"

	RoomFieldRoomID        = "room_id"
	RoomFieldParticipants  = "participant_ids"
	RoomFieldLastMessageAt = "last_message_at"
	RoomFieldLastPreview   = "last_message_preview"

	ParticipationFieldRoomID     = "room_id"
	ParticipationFieldUserID     = "user_id"
	ParticipationFieldLastReadAt = "last_read_at"
	ParticipationFieldJoinedAt   = "joined_at"

	// PreviewLen is the rune length of LastMessagePreview.
	PreviewLen = 100
)

// Room is a conversation over a fixed participant set.
type Room struct {
	RoomID             string    `bson:"room_id" json:"chatRoomId"`
	ParticipantIDs     []string  `bson:"participant_ids" json:"participantIds"`
	Type               RoomType  `bson:"type" json:"type"`                                  // derived once at creation
	ActivityID         string    `bson:"activity_id,omitempty" json:"activityId,omitempty"` // optional link to an activity
	CreatedAt          time.Time `bson:"created_at" json:"createdAt"`
	LastMessageAt      time.Time `bson:"last_message_at" json:"lastMessageAt"`
	LastMessagePreview string    `bson:"last_message_preview,omitempty" json:"lastMessage,omitempty"`
}

// NewRoom dedups participants and derives the room type: exactly two participants is direct.
func NewRoom(roomID string, participants []string, activityID string, now time.Time) *Room {
	ids := lo.Uniq(lo.Compact(participants))
	return &Room{
		RoomID:         roomID,
		ParticipantIDs: ids,
		Type:           TypeFor(len(ids)),
		ActivityID:     activityID,
		CreatedAt:      now.UTC(),
		LastMessageAt:  now.UTC(),
	}
}

func TypeFor(participants int) RoomType {
	if participants == 2 {
		return RoomDirect
	}
	return RoomGroup
}

func (r *Room) HasParticipant(userID string) bool {
	return lo.Contains(r.ParticipantIDs, userID)
}

// Participation is one user's membership state in a room.
type Participation struct {
	RoomID     string    `bson:"room_id" json:"chatRoomId"`
	UserID     string    `bson:"user_id" json:"userId"`
	JoinedAt   time.Time `bson:"joined_at" json:"joinedAt"`
	LastReadAt time.Time `bson:"last_read_at,omitempty" json:"lastReadAt,omitempty"`
}

// RoomSummary is one entry of a user's room list.
type RoomSummary struct {
	RoomID         string    `json:"chatRoomId"`
	Type           RoomType  `json:"type"`
	ParticipantIDs []string  `json:"participantIds"`
	ActivityID     string    `json:"activityId,omitempty"`
	LastMessage    string    `json:"lastMessage,omitempty"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	UnreadCount    int64     `json:"unreadCount"`
}

// RoomDetail is a room with its most recent messages, oldest first.
type RoomDetail struct {
	Room
	Messages []Message `json:"messages"`
}

// Preview truncates content to PreviewLen runes.
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= PreviewLen {
		return content
	}
	return string(r[:PreviewLen])
}
