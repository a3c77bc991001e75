package client

import (
	"context"
	"sync"
	"time"

	"MeetChat/logger"
	"MeetChat/module/chat/model"
	"MeetChat/tools/errs"
	"MeetChat/tools/safe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrReconnecting blocks a send while the session is not open.
var ErrReconnecting = errors.New("reconnecting")

var knownReasons = lo.SliceToMap([]*errs.CodeError{
	errs.ErrUnauthorized,
	errs.ErrVerificationRequired,
	errs.ErrNotParticipant,
	errs.ErrUsageLimitExceeded,
	errs.ErrRoomNotFound,
	errs.ErrValidation,
	errs.ErrDuplicateMessage,
	errs.ErrInternal,
}, func(e *errs.CodeError) (string, *errs.CodeError) { return e.Reason, e })

type RoomOptions struct {
	RoomID  string
	UserID  string
	Session *Session
	History *History
	// Store defaults to a fresh MessageStore.
	Store *MessageStore
	// OnRejected is told about an optimistic message the server refused; it has already been
	// removed from the store.
	OnRejected func(messageID string, err error)
	NewID      func() string
	Clock      func() time.Time
}

// Room binds one chat room to a session: history on open, live pushes, optimistic sends.
type Room struct {
	id      string
	me      string
	session *Session
	history *History
	store   *MessageStore
	reject  func(string, error)
	newID   func() string
	now     func() time.Time
	log     *zap.Logger

	mu           sync.Mutex
	room         model.Room
	inflight     map[string]struct{}
	reconnecting bool
	unsubs       []func()
}

// OpenRoom loads the room and its recent messages, subscribes to pushes and marks the room
// read.
func OpenRoom(ctx context.Context, opts RoomOptions) (*Room, error) {
	safe.MustNotNil(opts.Session, "session")
	safe.MustNotNil(opts.History, "history client")
	r := &Room{
		id:       opts.RoomID,
		me:       opts.UserID,
		session:  opts.Session,
		history:  opts.History,
		store:    opts.Store,
		reject:   opts.OnRejected,
		newID:    opts.NewID,
		now:      opts.Clock,
		log:      logger.L("room").With(zap.String("roomId", opts.RoomID)),
		inflight: map[string]struct{}{},
	}
	if r.store == nil {
		r.store = NewMessageStore()
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if r.now == nil {
		r.now = time.Now
	}

	detail, err := r.history.Room(ctx, r.id)
	if err != nil {
		return nil, err
	}
	r.room = detail.Room
	r.store.Reset(detail.Messages)

	r.unsubs = append(r.unsubs,
		r.session.OnMessage(r.handle),
		r.session.OnStateChange(r.onState),
	)
	if err := r.history.MarkRead(ctx, r.id); err != nil {
		r.log.Debug("mark read", zap.Error(err))
	}
	return r, nil
}

func (r *Room) ID() string { return r.id }

func (r *Room) Info() model.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.room
}

func (r *Room) Messages() []model.Message { return r.store.Messages() }

func (r *Room) Store() *MessageStore { return r.store }

// Send shows content at once and sends it. The echo is removed again when the write fails or
// the server rejects it; the returned error is then retryable.
func (r *Room) Send(content string) (model.Message, error) {
	if r.session.State() != StateOpen {
		return model.Message{}, ErrReconnecting
	}
	now := r.now()
	id := r.newID()
	m := model.Message{
		MessageID:   id,
		RoomID:      r.id,
		SenderID:    r.me,
		Content:     content,
		MessageType: model.MessageUser,
		ReadBy:      []string{r.me},
		CreatedAt:   now.UTC(),
		Timestamp:   now.UnixMilli(),
	}
	if !r.store.Add(m) {
		return m, errs.ErrDuplicateMessage.WrapMsg("", "messageId", id)
	}

	r.mu.Lock()
	r.inflight[id] = struct{}{}
	r.mu.Unlock()

	err := r.session.Send("sendMessage", map[string]any{
		"roomId":          r.id,
		"content":         content,
		"clientMessageId": id,
	})
	if err != nil {
		r.forget(id)
		r.store.Remove(id)
		if errors.Is(err, ErrNotConnected) {
			return model.Message{}, ErrReconnecting
		}
		return model.Message{}, err
	}
	return m, nil
}

// MarkAsRead records that the current user read messageID.
func (r *Room) MarkAsRead(messageID string) bool {
	return r.store.MarkAsRead(messageID, r.me)
}

// Resync refetches the history and reconciles it with what is shown.
func (r *Room) Resync(ctx context.Context) error {
	detail, err := r.history.Room(ctx, r.id)
	if err != nil {
		return err
	}
	r.store.Reconcile(detail.Messages)
	r.mu.Lock()
	r.room = detail.Room
	for _, m := range detail.Messages {
		delete(r.inflight, m.MessageID)
	}
	r.mu.Unlock()
	return nil
}

func (r *Room) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (r *Room) handle(ev Event) {
	switch e := ev.(type) {
	case MessageEvent:
		if e.Message.RoomID != r.id {
			return
		}
		r.forget(e.Message.MessageID)
		r.store.Add(e.Message)
	case VerificationRequiredEvent:
		r.rollback(e.ClientMessageID, errs.ErrVerificationRequired.WrapMsg(e.Message))
	case ErrorEvent:
		r.rollback(e.ClientMessageID, reasonError(e.Code, e.Message))
	case PongEvent, DiagnosticEvent, UnknownEvent:
	}
}

func (r *Room) onState(st State) {
	r.mu.Lock()
	switch st {
	case StateReconnecting:
		r.reconnecting = true
		r.mu.Unlock()
		return
	case StateOpen:
		if !r.reconnecting {
			r.mu.Unlock()
			return
		}
		r.reconnecting = false
	default:
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	safe.Go("room-resync", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := r.Resync(ctx); err != nil {
			r.log.Warn("resync after reconnect", zap.Error(err))
		}
	})
}

// rollback removes an optimistic message this room sent and the server refused.
func (r *Room) rollback(id string, cause error) {
	if id == "" || !r.forget(id) {
		return
	}
	if r.store.Remove(id) && r.reject != nil {
		r.reject(id, cause)
	}
}

func (r *Room) forget(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[id]
	delete(r.inflight, id)
	return ok
}

func reasonError(reason, msg string) error {
	if ce, ok := knownReasons[reason]; ok {
		return ce.WrapMsg(msg)
	}
	return errs.ErrInternal.WrapMsg(msg, "reason", reason)
}
