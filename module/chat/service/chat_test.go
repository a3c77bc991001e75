package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"MeetChat/module/chat/model"
	"MeetChat/module/chat/store"
	"MeetChat/module/user"
	usermodel "MeetChat/module/user/model"
	"MeetChat/tools/errs"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu  sync.Mutex
	got []string
}

func (r *recordingSink) MessageAppended(_ context.Context, m *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m.MessageID)
	return nil
}

type fixture struct {
	svc   *ChatService
	mem   *store.Memory
	dir   *user.Memory
	sink  *recordingSink
	room  *model.Room
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:   store.NewMemory(),
		dir:   user.NewMemory(),
		sink:  &recordingSink{},
		clock: time.UnixMilli(1700000000000),
	}
	for _, p := range []usermodel.Profile{
		{UserID: "alice", VerificationStatus: usermodel.VerificationApproved},
		{UserID: "bob", VerificationStatus: usermodel.VerificationApproved},
		{UserID: "pat", VerificationStatus: usermodel.VerificationPending},
		{UserID: "vip", VerificationStatus: usermodel.VerificationApproved, SubscriptionPlan: usermodel.PlanPremium},
	} {
		f.dir.Put(p)
	}
	f.svc = New(Options{
		Rooms:     f.mem,
		Messages:  f.mem,
		Directory: f.dir,
		Events:    f.sink,
		Limits:    DefaultLimits(),
		Now:       func() time.Time { return f.clock },
	})
	f.room = model.NewRoom("room-1", []string{"alice", "bob", "pat"}, "", f.clock.Add(-time.Hour))
	require.NoError(t, f.mem.CreateRoom(context.Background(), f.room))
	return f
}

func TestSendAppendsAndTouchesRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, room, err := f.svc.Send(ctx, SendInput{RoomID: "room-1", SenderID: "alice", Content: strings.Repeat("x", 150)})
	require.NoError(t, err)
	assert.Equal(t, "room-1", room.RoomID)
	assert.Equal(t, []string{"alice"}, msg.ReadBy)
	assert.Equal(t, f.clock.UnixMilli(), msg.Timestamp)
	assert.Equal(t, []string{msg.MessageID}, f.sink.got)

	got, err := f.mem.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, []rune(got.LastMessagePreview), model.PreviewLen)
	assert.True(t, got.LastMessageAt.Equal(msg.CreatedAt))
}

func TestSendSameMillisecondStaysOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var keys []string
	for i := 0; i < 3; i++ {
		m, _, err := f.svc.Send(ctx, SendInput{RoomID: "room-1", SenderID: "alice", Content: "same tick"})
		require.NoError(t, err)
		keys = append(keys, m.SequenceKey)
	}
	assert.Less(t, keys[0], keys[1])
	assert.Less(t, keys[1], keys[2])
}

func TestSendAdoptsClientMessageID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.NewString()

	msg, _, err := f.svc.Send(ctx, SendInput{RoomID: "room-1", SenderID: "bob", Content: "hi", ClientMessageID: id})
	require.NoError(t, err)
	assert.Equal(t, id, msg.MessageID)

	_, _, err = f.svc.Send(ctx, SendInput{RoomID: "room-1", SenderID: "bob", Content: "hi", ClientMessageID: id})
	assert.True(t, errors.Is(err, errs.ErrDuplicateMessage))

	msg, _, err = f.svc.Send(ctx, SendInput{RoomID: "room-1", SenderID: "bob", Content: "hi", ClientMessageID: "not-a-uuid"})
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", msg.MessageID)
}

func TestSendRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dir.Put(usermodel.Profile{UserID: "eve", VerificationStatus: usermodel.VerificationApproved})

	cases := []struct {
		name string
		in   SendInput
		want *errs.CodeError
	}{
		{"pending verification", SendInput{RoomID: "room-1", SenderID: "pat", Content: "hi"}, errs.ErrVerificationRequired},
		{"no profile", SendInput{RoomID: "room-1", SenderID: "ghost", Content: "hi"}, errs.ErrVerificationRequired},
		{"empty content", SendInput{RoomID: "room-1", SenderID: "alice", Content: " "}, errs.ErrValidation},
		{"oversized", SendInput{RoomID: "room-1", SenderID: "alice", Content: strings.Repeat("a", model.MaxContentLen+1)}, errs.ErrValidation},
		{"missing room id", SendInput{SenderID: "alice", Content: "hi"}, errs.ErrValidation},
		{"unknown room", SendInput{RoomID: "nope", SenderID: "alice", Content: "hi"}, errs.ErrRoomNotFound},
		{"not participant", SendInput{RoomID: "room-1", SenderID: "eve", Content: "hi"}, errs.ErrNotParticipant},
		// verification is checked before content
		{"pending and oversized", SendInput{RoomID: "room-1", SenderID: "pat", Content: strings.Repeat("a", model.MaxContentLen+1)}, errs.ErrVerificationRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.svc.Send(ctx, tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	n, err := f.mem.Count(ctx, "room-1")
	require.NoError(t, err)
	assert.Zero(t, n, "rejected sends leave the log untouched")
	assert.Empty(t, f.sink.got)
}

func TestListRoomsUnreadAndMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := f.svc.Send(ctx, SendInput{RoomID: "room-1", SenderID: "alice", Content: "ping"})
		require.NoError(t, err)
	}

	rooms, err := f.svc.ListRooms(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, int64(3), rooms[0].UnreadCount)
	assert.Equal(t, "ping", rooms[0].LastMessage)

	f.clock = f.clock.Add(time.Second)
	at, err := f.svc.MarkRoomRead(ctx, "bob", "room-1")
	require.NoError(t, err)
	assert.True(t, at.Equal(f.clock))

	rooms, err = f.svc.ListRooms(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, rooms[0].UnreadCount)

	detail, err := f.svc.GetRoom(ctx, "bob", "room-1")
	require.NoError(t, err)
	for _, m := range detail.Messages {
		assert.ElementsMatch(t, []string{"alice", "bob"}, m.ReadBy)
	}

	_, err = f.svc.MarkRoomRead(ctx, "stranger", "room-1")
	assert.NoError(t, err, "missing participation is ignored")
}

func TestGetRoomHistoryWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < model.HistoryLimit+5; i++ {
		f.clock = f.clock.Add(time.Millisecond)
		_, _, err := f.svc.Send(ctx, SendInput{RoomID: "room-1", SenderID: "bob", Content: "m"})
		require.NoError(t, err)
	}
	detail, err := f.svc.GetRoom(ctx, "alice", "room-1")
	require.NoError(t, err)
	require.Len(t, detail.Messages, model.HistoryLimit)
	for i := 1; i < len(detail.Messages); i++ {
		assert.Less(t, detail.Messages[i-1].SequenceKey, detail.Messages[i].SequenceKey)
	}
	assert.Equal(t, f.clock.UnixMilli(), detail.Messages[len(detail.Messages)-1].Timestamp)

	_, err = f.svc.GetRoom(ctx, "stranger", "room-1")
	assert.True(t, errors.Is(err, errs.ErrNotParticipant))
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.svc.CreateRoom(ctx, "bob", CreateRoomInput{ParticipantIDs: []string{"alice"}})
	require.NoError(t, err)
	assert.Equal(t, model.RoomDirect, room.Type)
	assert.ElementsMatch(t, []string{"alice", "bob"}, room.ParticipantIDs)

	_, err = f.svc.CreateRoom(ctx, "bob", CreateRoomInput{ParticipantIDs: []string{"bob"}})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	// bob is in room-1 and the new room; one more reaches the free cap
	_, err = f.svc.CreateRoom(ctx, "bob", CreateRoomInput{ParticipantIDs: []string{"alice", "pat"}, ActivityID: "a1"})
	require.NoError(t, err)
	_, err = f.svc.CreateRoom(ctx, "bob", CreateRoomInput{ParticipantIDs: []string{"alice"}})
	assert.True(t, errors.Is(err, errs.ErrUsageLimitExceeded))

	for i := 0; i < 5; i++ {
		_, err = f.svc.CreateRoom(ctx, "vip", CreateRoomInput{ParticipantIDs: []string{"alice"}})
		require.NoError(t, err)
	}

	_, err = f.svc.CreateRoom(ctx, "ghost", CreateRoomInput{ParticipantIDs: []string{"alice"}})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestLocalStamperMonotonicPerRoom(t *testing.T) {
	s := NewLocalStamper()
	now := time.UnixMilli(1000)
	a1, _ := s.Stamp(context.Background(), "a", now)
	a2, _ := s.Stamp(context.Background(), "a", now)
	a3, _ := s.Stamp(context.Background(), "a", now.Add(-time.Second))
	b1, _ := s.Stamp(context.Background(), "b", now)
	assert.Equal(t, []int64{1000, 1001, 1002}, []int64{a1, a2, a3})
	assert.Equal(t, int64(1000), b1)
}
