package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"MeetChat/module/chat/model"
	"MeetChat/module/chat/store"
	"MeetChat/service/storage"
	"MeetChat/tools/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPusher struct {
	mu     sync.Mutex
	fail   map[string]error
	pushed []string
}

func (p *scriptedPusher) Push(_ context.Context, rec storage.ConnRecord, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.fail[rec.ConnectionID]; ok {
		return err
	}
	p.pushed = append(p.pushed, rec.ConnectionID)
	return nil
}

func newFanoutFixture(t *testing.T, participants ...string) (*store.Memory, *storage.MemRegistry) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateRoom(context.Background(), model.NewRoom("room-1", participants, "", time.Now())))
	return mem, storage.NewMemRegistry(time.Hour, nil)
}

func register(t *testing.T, reg storage.Registry, connID, userID string) {
	t.Helper()
	require.NoError(t, reg.Register(context.Background(), storage.ConnRecord{ConnectionID: connID, UserID: userID, GatewayID: "gw-1"}))
}

func TestFanoutPrunesGoneConnection(t *testing.T) {
	ctx := context.Background()
	mem, reg := newFanoutFixture(t, "alice", "bob")
	register(t, reg, "b1", "bob")
	register(t, reg, "b2", "bob")
	register(t, reg, "b3", "bob")
	register(t, reg, "a1", "alice")

	p := &scriptedPusher{fail: map[string]error{"b2": errs.ErrGone}}
	f := NewFanout(mem, reg, p, FanoutConf{})

	rep, err := f.Dispatch(ctx, "room-1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Report{Targets: 4, Delivered: 3, Pruned: 1}, rep)
	assert.ElementsMatch(t, []string{"a1", "b1", "b3"}, p.pushed)

	conns, err := reg.ConnectionsFor(ctx, "bob")
	require.NoError(t, err)
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ConnectionID)
	}
	assert.ElementsMatch(t, []string{"b1", "b3"}, ids)
	_, ok, err := reg.Lookup(ctx, "b2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFanoutParticipantWithoutConnections(t *testing.T) {
	mem, reg := newFanoutFixture(t, "alice", "bob")
	register(t, reg, "a1", "alice")

	p := &scriptedPusher{}
	rep, err := NewFanout(mem, reg, p, FanoutConf{}).Dispatch(context.Background(), "room-1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Report{Targets: 1, Delivered: 1}, rep)
	assert.Equal(t, []string{"a1"}, p.pushed)
}

func TestFanoutTransientFailureKeepsRegistration(t *testing.T) {
	ctx := context.Background()
	mem, reg := newFanoutFixture(t, "alice", "bob")
	register(t, reg, "b1", "bob")

	p := &scriptedPusher{fail: map[string]error{"b1": ErrSendQueueFull}}
	rep, err := NewFanout(mem, reg, p, FanoutConf{}).Dispatch(ctx, "room-1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Report{Targets: 1, Failed: 1}, rep)

	_, ok, err := reg.Lookup(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFanoutUnknownRoom(t *testing.T) {
	mem, reg := newFanoutFixture(t, "alice", "bob")
	_, err := NewFanout(mem, reg, &scriptedPusher{}, FanoutConf{}).Dispatch(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, errs.ErrRoomNotFound))
}

type slowPusher struct{}

func (slowPusher) Push(ctx context.Context, _ storage.ConnRecord, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFanoutPushTimeoutIsTransient(t *testing.T) {
	mem, reg := newFanoutFixture(t, "alice", "bob")
	register(t, reg, "a1", "alice")
	register(t, reg, "b1", "bob")

	f := NewFanout(mem, reg, slowPusher{}, FanoutConf{PushTimeout: 20 * time.Millisecond})
	start := time.Now()
	rep, err := f.Dispatch(context.Background(), "room-1", nil)
	require.NoError(t, err)
	assert.Equal(t, Report{Targets: 2, Failed: 2}, rep)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRoutingPusher(t *testing.T) {
	ctx := context.Background()
	local := NewConnManager("gw-1", ManagerConf{})
	wc := local.NewConn("c1", "alice", nil)
	require.NoError(t, local.Add(wc))

	p := NewRoutingPusher(local, nil)
	require.NoError(t, p.Push(ctx, storage.ConnRecord{ConnectionID: "c1", GatewayID: "gw-1"}, []byte("x")))
	assert.Equal(t, []byte("x"), <-wc.send)

	err := p.Push(ctx, storage.ConnRecord{ConnectionID: "missing", GatewayID: "gw-1"}, nil)
	assert.True(t, errors.Is(err, errs.ErrGone))

	err = p.Push(ctx, storage.ConnRecord{ConnectionID: "c9", GatewayID: "gw-2"}, nil)
	assert.True(t, errors.Is(err, ErrNoRelay))

	wc.CloseWith(1000, "")
	err = p.Push(ctx, storage.ConnRecord{ConnectionID: "c1", GatewayID: "gw-1"}, nil)
	assert.True(t, errors.Is(err, errs.ErrGone))
}
