package service

import (
	"context"
	"strings"
	"time"

	"MeetChat/logger"
	"MeetChat/module/chat/model"
	"MeetChat/module/chat/store"
	"MeetChat/module/user"
	usermodel "MeetChat/module/user/model"
	"MeetChat/tools/errs"
	"MeetChat/tools/safe"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Stamper hands out per-room strictly increasing millisecond timestamps.
type Stamper interface {
	Stamp(ctx context.Context, roomID string, now time.Time) (int64, error)
}

// EventSink receives every appended message; failures never fail the send.
type EventSink interface {
	MessageAppended(ctx context.Context, m *model.Message) error
}

type Limits struct {
	// MaxRoomsFree caps rooms per free-plan user; negative means unlimited.
	MaxRoomsFree int
	HistoryLimit int
}

func DefaultLimits() Limits {
	return Limits{MaxRoomsFree: 3, HistoryLimit: model.HistoryLimit}
}

type Options struct {
	Rooms     store.RoomStore
	Messages  store.MessageLog
	Directory user.Directory
	Stamper   Stamper
	Events    EventSink
	Limits    Limits
	Now       func() time.Time
	Logger    *zap.Logger
}

// ChatService holds the room and message use cases shared by the gateway and REST.
type ChatService struct {
	rooms     store.RoomStore
	messages  store.MessageLog
	directory user.Directory
	stamper   Stamper
	events    EventSink
	limits    Limits
	now       func() time.Time
	log       *zap.Logger
}

func New(opts Options) *ChatService {
	safe.MustNotNil(opts.Rooms, "rooms store")
	safe.MustNotNil(opts.Messages, "message log")
	safe.MustNotNil(opts.Directory, "user directory")
	s := &ChatService{
		rooms:     opts.Rooms,
		messages:  opts.Messages,
		directory: opts.Directory,
		stamper:   opts.Stamper,
		events:    opts.Events,
		limits:    opts.Limits,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if s.stamper == nil {
		s.stamper = NewLocalStamper()
	}
	if s.limits.HistoryLimit <= 0 {
		s.limits.HistoryLimit = model.HistoryLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.L("chat")
	}
	return s
}

func (s *ChatService) Rooms() store.RoomStore { return s.rooms }

var validate = validator.New()

type SendInput struct {
	RoomID          string `validate:"required"`
	SenderID        string `validate:"required"`
	Content         string `validate:"required,max=5000"`
	ClientMessageID string
}

// Send runs the sender checks in order (verification, content, room membership), then appends.
// The returned room is the one the message was appended to, for fanout.
func (s *ChatService) Send(ctx context.Context, in SendInput) (*model.Message, *model.Room, error) {
	if err := s.CheckSender(ctx, in.SenderID); err != nil {
		return nil, nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, nil, errs.ErrValidation.WrapMsg(err.Error())
	}
	if strings.TrimSpace(in.RoomID) == "" || !model.ValidContent(in.Content) {
		return nil, nil, errs.ErrValidation.WrapMsg("content must be 1..5000 characters")
	}
	room, err := s.rooms.GetRoom(ctx, in.RoomID)
	if err != nil {
		return nil, nil, err
	}
	if !room.HasParticipant(in.SenderID) {
		return nil, nil, errs.ErrNotParticipant.WrapMsg("", "roomId", in.RoomID, "userId", in.SenderID)
	}

	messageID := uuid.NewString()
	if id, err := uuid.Parse(in.ClientMessageID); err == nil {
		messageID = id.String()
	}

	now := s.now()
	ms, err := s.stamper.Stamp(ctx, room.RoomID, now)
	if err != nil {
		s.log.Warn("stamper unavailable, using local clock", zap.String("roomId", room.RoomID), zap.Error(err))
		ms = now.UnixMilli()
	}
	msg := model.NewMessage(messageID, room.RoomID, in.SenderID, in.Content, time.UnixMilli(ms))
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, nil, err
	}

	if err := s.rooms.TouchLastMessage(ctx, room.RoomID, msg.CreatedAt, model.Preview(msg.Content)); err != nil {
		s.log.Warn("update room last message", zap.String("roomId", room.RoomID), zap.Error(err))
	}
	if s.events != nil {
		if err := s.events.MessageAppended(ctx, msg); err != nil {
			s.log.Warn("publish message event", zap.String("messageId", msg.MessageID), zap.Error(err))
		}
	}
	return msg, room, nil
}

// CheckSender fails with ErrVerificationRequired unless the user's verification is approved.
func (s *ChatService) CheckSender(ctx context.Context, userID string) error {
	p, err := s.directory.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrVerificationRequired.WrapMsg("no profile", "userId", userID)
		}
		return err
	}
	if !p.Approved() {
		return errs.ErrVerificationRequired.WrapMsg("", "userId", userID, "status", p.VerificationStatus)
	}
	return nil
}

// ListRooms returns the caller's rooms with unread counts, most recent first.
func (s *ChatService) ListRooms(ctx context.Context, userID string) ([]model.RoomSummary, error) {
	rooms, err := s.rooms.ListRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		var since time.Time
		if p, err := s.rooms.Participation(ctx, r.RoomID, userID); err == nil {
			since = p.LastReadAt
		}
		unread, err := s.messages.CountUnread(ctx, r.RoomID, userID, since)
		if err != nil {
			return nil, err
		}
		out = append(out, model.RoomSummary{
			RoomID:         r.RoomID,
			Type:           r.Type,
			ParticipantIDs: r.ParticipantIDs,
			ActivityID:     r.ActivityID,
			LastMessage:    r.LastMessagePreview,
			LastMessageAt:  r.LastMessageAt,
			UnreadCount:    unread,
		})
	}
	return out, nil
}

// GetRoom returns the room with its most recent messages, oldest first. Only participants may read it.
func (s *ChatService) GetRoom(ctx context.Context, userID, roomID string) (*model.RoomDetail, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, errs.ErrNotParticipant.WrapMsg("", "roomId", roomID, "userId", userID)
	}
	msgs, err := s.messages.Recent(ctx, roomID, s.limits.HistoryLimit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return &model.RoomDetail{Room: *room, Messages: msgs}, nil
}

// MarkRoomRead records the caller's read position and adds them to readBy of the recent
// messages. A caller without a participation still gets a timestamp back.
func (s *ChatService) MarkRoomRead(ctx context.Context, userID, roomID string) (time.Time, error) {
	now := s.now().UTC()
	ok, err := s.rooms.MarkRoomRead(ctx, roomID, userID, now)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return now, nil
	}
	msgs, err := s.messages.Recent(ctx, roomID, s.limits.HistoryLimit)
	if err != nil {
		return time.Time{}, err
	}
	for _, m := range msgs {
		if lo.Contains(m.ReadBy, userID) {
			continue
		}
		if err := s.messages.MarkMessageRead(ctx, roomID, m.MessageID, userID); err != nil {
			return time.Time{}, err
		}
	}
	return now, nil
}

type CreateRoomInput struct {
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1,dive,required"`
	ActivityID     string   `json:"activityId"`
}

// CreateRoom adds the caller to the participants and enforces the free-plan room cap.
func (s *ChatService) CreateRoom(ctx context.Context, userID string, in CreateRoomInput) (*model.Room, error) {
	if err := validate.Struct(in); err != nil {
		return nil, errs.ErrValidation.WrapMsg(err.Error())
	}
	participants := lo.Uniq(append(append([]string{}, in.ParticipantIDs...), userID))
	participants = lo.Compact(participants)
	if len(participants) < 2 {
		return nil, errs.ErrValidation.WrapMsg("a room needs at least one other participant")
	}

	profile, err := s.directory.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.Plan() == usermodel.PlanFree && s.limits.MaxRoomsFree >= 0 {
		n, err := s.rooms.CountRooms(ctx, userID)
		if err != nil {
			return nil, err
		}
		if n >= int64(s.limits.MaxRoomsFree) {
			return nil, errs.ErrUsageLimitExceeded.WrapMsg("", "current", n, "limit", s.limits.MaxRoomsFree)
		}
	}

	room := model.NewRoom(uuid.NewString(), participants, in.ActivityID, s.now())
	if err := s.rooms.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	s.log.Info("room created", zap.String("roomId", room.RoomID), zap.String("type", string(room.Type)), zap.Int("participants", len(participants)))
	return room, nil
}
