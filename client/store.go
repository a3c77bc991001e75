package client

import (
	"sync"
	"time"

	"MeetChat/module/chat/model"

	"github.com/samber/lo"
)

// DedupWindow is how close two messages with the same sender and content must be to count
// as one user action.
const DedupWindow = 5 * time.Second

// MessageStore is the client's view of one room: REST history, live pushes and optimistic
// echoes merged in insertion order.
type MessageStore struct {
	mu     sync.RWMutex
	msgs   []model.Message
	window time.Duration
}

func NewMessageStore() *MessageStore {
	return &MessageStore{window: DedupWindow}
}

// Add appends m unless it duplicates a stored message, either by id or by the same sender
// sending identical content within DedupWindow. It reports whether m was stored.
func (s *MessageStore) Add(m model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasDupLocked(s.msgs, m) {
		return false
	}
	s.msgs = append(s.msgs, clone(m))
	return true
}

// Remove drops the message with id; used to roll back an optimistic echo.
func (s *MessageStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].MessageID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// MarkAsRead adds userID to the message's ReadBy. False when the message is unknown or
// already read by userID.
func (s *MessageStore) MarkAsRead(id, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].MessageID == id {
			return s.msgs[i].MarkRead(userID)
		}
	}
	return false
}

// Reset replaces the content with history, as fetched when a room is opened.
func (s *MessageStore) Reset(history []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = lo.Map(history, func(m model.Message, _ int) model.Message { return clone(m) })
}

// Reconcile merges history fetched after a reconnect: history first, then local messages the
// history does not already contain.
func (s *MessageStore) Reconcile(history []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := lo.Map(history, func(m model.Message, _ int) model.Message { return clone(m) })
	for _, m := range s.msgs {
		if !s.hasDupLocked(history, m) {
			merged = append(merged, m)
		}
	}
	s.msgs = merged
}

func (s *MessageStore) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := lo.Find(s.msgs, func(m model.Message) bool { return m.MessageID == id })
	if !ok {
		return model.Message{}, false
	}
	return clone(m), true
}

// Messages returns a copy of the stored messages in insertion order.
func (s *MessageStore) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.msgs, func(m model.Message, _ int) model.Message { return clone(m) })
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

func (s *MessageStore) hasDupLocked(in []model.Message, m model.Message) bool {
	return lo.ContainsBy(in, func(x model.Message) bool {
		if x.MessageID == m.MessageID {
			return true
		}
		if x.SenderID != m.SenderID || x.Content != m.Content {
			return false
		}
		d := millis(x) - millis(m)
		if d < 0 {
			d = -d
		}
		return d < s.window.Milliseconds()
	})
}

func millis(m model.Message) int64 {
	if m.Timestamp != 0 {
		return m.Timestamp
	}
	return m.CreatedAt.UnixMilli()
}

func clone(m model.Message) model.Message {
	m.ReadBy = append([]string(nil), m.ReadBy...)
	return m
}
