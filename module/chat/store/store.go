package store

import (
	"context"
	"time"

	"MeetChat/module/chat/model"
)

// RoomStore persists rooms and per-user participation.
type RoomStore interface {
	// CreateRoom writes the room and one participation per participant.
	CreateRoom(ctx context.Context, room *model.Room) error
	// GetRoom returns errs.ErrRoomNotFound for unknown ids.
	GetRoom(ctx context.Context, roomID string) (*model.Room, error)
	// ListRooms returns the user's rooms, most recent activity first.
	ListRooms(ctx context.Context, userID string) ([]model.Room, error)
	CountRooms(ctx context.Context, userID string) (int64, error)
	TouchLastMessage(ctx context.Context, roomID string, at time.Time, preview string) error
	// MarkRoomRead sets lastReadAt; false when the user has no participation in the room.
	MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) (bool, error)
	// Participation returns errs.ErrNotFound when absent.
	Participation(ctx context.Context, roomID, userID string) (*model.Participation, error)
}

// MessageLog is the append-only per-room message sequence.
type MessageLog interface {
	// Append stores m as stamped by the caller; a reused MessageID yields errs.ErrDuplicateMessage.
	Append(ctx context.Context, m *model.Message) error
	// Recent returns up to limit newest messages of the room, oldest first.
	Recent(ctx context.Context, roomID string, limit int) ([]model.Message, error)
	Count(ctx context.Context, roomID string) (int64, error)
	// CountUnread counts messages after since that were not sent by userID.
	CountUnread(ctx context.Context, roomID, userID string, since time.Time) (int64, error)
	// MarkMessageRead adds userID to the message's readBy set; unknown ids are ignored.
	MarkMessageRead(ctx context.Context, roomID, messageID, userID string) error
}

// Stores bundles the two stores of one backend.
type Stores struct {
	Rooms    RoomStore
	Messages MessageLog
	Close    func(ctx context.Context) error
}
