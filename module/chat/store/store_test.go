package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"MeetChat/data/database/mgo/mongoutil"
	"MeetChat/data/database/pgutil"
	"MeetChat/module/chat/model"
	"MeetChat/tools/errs"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStores(t *testing.T) {
	runStoreContract(t, NewMemory().Stores())
}

func TestMongoStores(t *testing.T) {
	uri := os.Getenv("MEETCHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MEETCHAT_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{Uri: uri, Database: "meetchat_test_" + uuid.NewString()[:8], MaxRetry: 1})
	require.NoError(t, err)
	defer func() {
		_ = cli.GetDB().Drop(ctx)
		_ = cli.Close(ctx)
	}()
	s := NewMongo(cli.GetDB())
	require.NoError(t, s.EnsureIndexes(ctx))
	runStoreContract(t, s.Stores(nil))
}

func TestPostgresStores(t *testing.T) {
	dsn := os.Getenv("MEETCHAT_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MEETCHAT_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgutil.NewPool(ctx, &pgutil.Config{DSN: dsn, MaxRetry: 1})
	require.NoError(t, err)
	defer pool.Close()
	s := NewPostgres(pool)
	require.NoError(t, s.Migrate(ctx))
	runStoreContract(t, s.Stores())
}

// runStoreContract exercises behaviour every backend must share. Ids are random so the
// test can run against a shared database.
func runStoreContract(t *testing.T, st Stores) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	alice, bob, carol := "alice-"+suffix, "bob-"+suffix, "carol-"+suffix
	base := time.Now().UTC().Truncate(time.Millisecond)

	direct := model.NewRoom("direct-"+suffix, []string{alice, bob}, "", base)
	group := model.NewRoom("group-"+suffix, []string{alice, bob, carol}, "act-1", base.Add(time.Second))
	require.NoError(t, st.Rooms.CreateRoom(ctx, direct))
	require.NoError(t, st.Rooms.CreateRoom(ctx, group))

	t.Run("create twice fails", func(t *testing.T) {
		assert.Error(t, st.Rooms.CreateRoom(ctx, direct))
	})

	t.Run("get room", func(t *testing.T) {
		got, err := st.Rooms.GetRoom(ctx, group.RoomID)
		require.NoError(t, err)
		assert.Equal(t, model.RoomGroup, got.Type)
		assert.ElementsMatch(t, []string{alice, bob, carol}, got.ParticipantIDs)
		assert.Equal(t, "act-1", got.ActivityID)

		_, err = st.Rooms.GetRoom(ctx, "missing-"+suffix)
		assert.True(t, errors.Is(err, errs.ErrRoomNotFound))
	})

	t.Run("append keeps sequence order", func(t *testing.T) {
		// appended out of order on purpose; the log orders by sequence key
		for _, off := range []int{2, 0, 1} {
			m := model.NewMessage(fmt.Sprintf("m%d-%s", off, suffix), direct.RoomID, alice, fmt.Sprintf("msg %d", off), base.Add(time.Duration(off)*time.Millisecond))
			require.NoError(t, st.Messages.Append(ctx, m))
		}
		got, err := st.Messages.Recent(ctx, direct.RoomID, model.HistoryLimit)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1].SequenceKey, got[i].SequenceKey)
		}
		assert.Equal(t, "msg 0", got[0].Content)

		n, err := st.Messages.Count(ctx, direct.RoomID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		m := model.NewMessage("m0-"+suffix, direct.RoomID, alice, "again", base)
		err := st.Messages.Append(ctx, m)
		assert.True(t, errors.Is(err, errs.ErrDuplicateMessage))
	})

	t.Run("recent limit returns newest oldest first", func(t *testing.T) {
		got, err := st.Messages.Recent(ctx, direct.RoomID, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "msg 1", got[0].Content)
		assert.Equal(t, "msg 2", got[1].Content)
	})

	t.Run("read tracking", func(t *testing.T) {
		unread, err := st.Messages.CountUnread(ctx, direct.RoomID, bob, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), unread)
		unread, err = st.Messages.CountUnread(ctx, direct.RoomID, alice, time.Time{})
		require.NoError(t, err)
		assert.Zero(t, unread)

		ok, err := st.Rooms.MarkRoomRead(ctx, direct.RoomID, bob, base.Add(time.Millisecond))
		require.NoError(t, err)
		assert.True(t, ok)
		p, err := st.Rooms.Participation(ctx, direct.RoomID, bob)
		require.NoError(t, err)
		unread, err = st.Messages.CountUnread(ctx, direct.RoomID, bob, p.LastReadAt)
		require.NoError(t, err)
		assert.Equal(t, int64(1), unread)

		ok, err = st.Rooms.MarkRoomRead(ctx, direct.RoomID, carol, base)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, st.Messages.MarkMessageRead(ctx, direct.RoomID, "m2-"+suffix, bob))
		require.NoError(t, st.Messages.MarkMessageRead(ctx, direct.RoomID, "m2-"+suffix, bob))
		got, err := st.Messages.Recent(ctx, direct.RoomID, 1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{alice, bob}, got[0].ReadBy)
	})

	t.Run("list rooms by last activity", func(t *testing.T) {
		require.NoError(t, st.Rooms.TouchLastMessage(ctx, direct.RoomID, base.Add(time.Minute), "latest"))
		// an older touch does not move the room back
		require.NoError(t, st.Rooms.TouchLastMessage(ctx, direct.RoomID, base.Add(time.Second/2), "older"))

		rooms, err := st.Rooms.ListRooms(ctx, alice)
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, direct.RoomID, rooms[0].RoomID)
		assert.Equal(t, "latest", rooms[0].LastMessagePreview)

		rooms, err = st.Rooms.ListRooms(ctx, carol)
		require.NoError(t, err)
		require.Len(t, rooms, 1)

		n, err := st.Rooms.CountRooms(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		assert.True(t, errors.Is(st.Rooms.TouchLastMessage(ctx, "missing-"+suffix, base, "x"), errs.ErrRoomNotFound))
	})
}
