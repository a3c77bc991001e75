package chat

import (
	"context"
	"time"

	"MeetChat/logger"
	"MeetChat/module/chat/model"
	"MeetChat/service/storage"
	"MeetChat/tools/errs"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RoomSource resolves a room's participants.
type RoomSource interface {
	GetRoom(ctx context.Context, roomID string) (*model.Room, error)
}

// ===== 配置 =====

type FanoutConf struct {
	Concurrency int           // 单次分发的并发推送数，默认 32
	PushTimeout time.Duration // 单次推送超时，默认 5s
}

func (c *FanoutConf) norm() {
	if c.Concurrency <= 0 {
		c.Concurrency = 32
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 5 * time.Second
	}
}

// Report counts the outcome of one dispatch. Targets = Delivered + Pruned + Failed.
type Report struct {
	Targets   int
	Delivered int // 推送成功
	Pruned    int // 连接已失效，已从注册表移除
	Failed    int // 临时失败，保留注册
}

// Fanout pushes a frame to every live connection of every participant of a room.
// Delivery is best effort: nothing is retried, gone connections are unregistered.
type Fanout struct {
	rooms  RoomSource
	reg    storage.Registry
	pusher Pusher
	conf   FanoutConf
	log    *zap.Logger
}

func NewFanout(rooms RoomSource, reg storage.Registry, pusher Pusher, conf FanoutConf) *Fanout {
	conf.norm()
	return &Fanout{rooms: rooms, reg: reg, pusher: pusher, conf: conf, log: logger.L("fanout")}
}

// ===== 分发 =====

func (f *Fanout) Dispatch(ctx context.Context, roomID string, payload []byte) (Report, error) {
	room, err := f.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return Report{}, err
	}

	var targets []storage.ConnRecord
	for _, uid := range room.ParticipantIDs {
		conns, err := f.reg.ConnectionsFor(ctx, uid)
		if err != nil {
			f.log.Warn("lookup connections", zap.String("roomId", roomID), zap.String("userId", uid), zap.Error(err))
			continue
		}
		targets = append(targets, conns...)
	}

	rep := Report{Targets: len(targets)}
	if len(targets) == 0 {
		return rep, nil
	}

	results := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(f.conf.Concurrency)
	for i, rec := range targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, f.conf.PushTimeout)
			defer cancel()
			results[i] = f.pusher.Push(pctx, rec, payload)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results {
		rec := targets[i]
		switch {
		case err == nil:
			rep.Delivered++
		case errors.Is(err, errs.ErrGone):
			rep.Pruned++
			if uerr := f.reg.Unregister(ctx, rec.ConnectionID); uerr != nil {
				f.log.Warn("prune gone connection", zap.String("connId", rec.ConnectionID), zap.Error(uerr))
			}
		default:
			rep.Failed++
			f.log.Info("push failed", zap.String("roomId", roomID), zap.String("connId", rec.ConnectionID),
				zap.String("gatewayId", rec.GatewayID), zap.Error(err))
		}
	}
	return rep, nil
}
