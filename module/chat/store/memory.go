package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"MeetChat/module/chat/model"
	"MeetChat/tools/errs"

	"github.com/samber/lo"
)

// Memory keeps rooms and messages in process; used for tests and single node development.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]*model.Room
	parts    map[string]map[string]*model.Participation // roomID -> userID
	byUser   map[string]map[string]struct{}             // userID -> roomIDs
	messages map[string][]*model.Message                // roomID -> ordered by sequence key
	ids      map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]*model.Room),
		parts:    make(map[string]map[string]*model.Participation),
		byUser:   make(map[string]map[string]struct{}),
		messages: make(map[string][]*model.Message),
		ids:      make(map[string]struct{}),
	}
}

func (s *Memory) Stores() Stores {
	return Stores{Rooms: s, Messages: s, Close: func(context.Context) error { return nil }}
}

func (s *Memory) CreateRoom(_ context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.RoomID]; ok {
		return errs.ErrValidation.WrapMsg("room exists", "roomId", room.RoomID)
	}
	cp := *room
	cp.ParticipantIDs = append([]string(nil), room.ParticipantIDs...)
	s.rooms[room.RoomID] = &cp

	parts := make(map[string]*model.Participation, len(room.ParticipantIDs))
	for _, uid := range room.ParticipantIDs {
		parts[uid] = &model.Participation{RoomID: room.RoomID, UserID: uid, JoinedAt: room.CreatedAt}
		if s.byUser[uid] == nil {
			s.byUser[uid] = make(map[string]struct{})
		}
		s.byUser[uid][room.RoomID] = struct{}{}
	}
	s.parts[room.RoomID] = parts
	return nil
}

func (s *Memory) GetRoom(_ context.Context, roomID string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, errs.ErrRoomNotFound.WrapMsg("", "roomId", roomID)
	}
	cp := *r
	cp.ParticipantIDs = append([]string(nil), r.ParticipantIDs...)
	return &cp, nil
}

func (s *Memory) ListRooms(_ context.Context, userID string) ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		r := *s.rooms[id]
		r.ParticipantIDs = append([]string(nil), r.ParticipantIDs...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *Memory) CountRooms(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byUser[userID])), nil
}

func (s *Memory) TouchLastMessage(_ context.Context, roomID string, at time.Time, preview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return errs.ErrRoomNotFound.WrapMsg("", "roomId", roomID)
	}
	if !at.Before(r.LastMessageAt) {
		r.LastMessageAt = at.UTC()
		r.LastMessagePreview = preview
	}
	return nil
}

func (s *Memory) MarkRoomRead(_ context.Context, roomID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[roomID][userID]
	if !ok {
		return false, nil
	}
	p.LastReadAt = at.UTC()
	return true, nil
}

func (s *Memory) Participation(_ context.Context, roomID, userID string) (*model.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parts[roomID][userID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("participation", "roomId", roomID, "userId", userID)
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) Append(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[m.MessageID]; ok {
		return errs.ErrDuplicateMessage.WrapMsg("", "messageId", m.MessageID)
	}
	cp := *m
	cp.ReadBy = append([]string(nil), m.ReadBy...)

	list := s.messages[m.RoomID]
	i := sort.Search(len(list), func(i int) bool { return list[i].SequenceKey > cp.SequenceKey })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &cp
	s.messages[m.RoomID] = list
	s.ids[m.MessageID] = struct{}{}
	return nil
}

func (s *Memory) Recent(_ context.Context, roomID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[roomID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return lo.Map(list, func(m *model.Message, _ int) model.Message {
		cp := *m
		cp.ReadBy = append([]string(nil), m.ReadBy...)
		return cp
	}), nil
}

func (s *Memory) Count(_ context.Context, roomID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages[roomID])), nil
}

func (s *Memory) CountUnread(_ context.Context, roomID, userID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(lo.CountBy(s.messages[roomID], func(m *model.Message) bool {
		return m.SenderID != userID && m.CreatedAt.After(since)
	})), nil
}

func (s *Memory) MarkMessageRead(_ context.Context, roomID, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[roomID] {
		if m.MessageID == messageID {
			m.MarkRead(userID)
			return nil
		}
	}
	return nil
}
