package storage

import (
	"context"
	"strconv"
	"time"

	"MeetChat/logger"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ===== 配置 =====

type OnlineConfig struct {
	Prefix string        // key 前缀，默认 "chat"
	TTL    time.Duration // 无心跳时记录的存活时间，默认 24h
	Clock  func() time.Time
}

func (c *OnlineConfig) norm() {
	if c.Prefix == "" {
		c.Prefix = "chat"
	}
	if c.TTL <= 0 {
		c.TTL = DefaultConnTTL
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// ===== Lua 脚本 =====

// 清理用户索引中过期的连接，返回仍有效的连接
// KEYS[1] = 用户索引 key
// ARGV[1] = nowUnix
const luaActiveAndSweep = `
local userZ = KEYS[1]
local now   = tonumber(ARGV[1])
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", now)
local actives = redis.call("ZRANGEBYSCORE", userZ, now + 1, "+inf")
if #actives == 0 then
  redis.call("DEL", userZ)
end
return actives
`

// 连接 hash 的字段
const (
	fieldUserID      = "userId"
	fieldGatewayID   = "gatewayId"
	fieldConnectedAt = "connectedAt"
	fieldExpiresAt   = "expiresAt"
)

// OnlineStore is the Redis Registry. By-connection projection: hash <prefix>:conn:<connId>
// with a TTL. By-user projection: zset <prefix>:user:{<userId>}:conns scored by expiry.
type OnlineStore struct {
	rdb       redis.UniversalClient
	conf      OnlineConfig
	activeLua *redis.Script
	log       *zap.Logger
}

func NewOnlineStore(rdb redis.UniversalClient, conf OnlineConfig) *OnlineStore {
	conf.norm()
	return &OnlineStore{
		rdb:       rdb,
		conf:      conf,
		activeLua: redis.NewScript(luaActiveAndSweep),
		log:       logger.L("registry"),
	}
}

// ===== Key 构造 =====

func (s *OnlineStore) connKey(connID string) string {
	return s.conf.Prefix + ":conn:" + connID
}

func (s *OnlineStore) userKey(userID string) string {
	return s.conf.Prefix + ":user:{" + userID + "}:conns"
}

// ===== 注册 / 注销 / 查询 =====

func (s *OnlineStore) Register(ctx context.Context, rec ConnRecord) error {
	if rec.ConnectionID == "" || rec.UserID == "" {
		return errors.New("register: connection and user id are required")
	}
	now := s.conf.Clock()
	if rec.ConnectedAt.IsZero() {
		rec.ConnectedAt = now
	}
	exp := now.Add(s.conf.TTL)

	// MULTI/EXEC runs the queued commands in order: by-connection first.
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.connKey(rec.ConnectionID),
		fieldUserID, rec.UserID,
		fieldGatewayID, rec.GatewayID,
		fieldConnectedAt, rec.ConnectedAt.UnixMilli(),
		fieldExpiresAt, exp.Unix(),
	)
	pipe.Expire(ctx, s.connKey(rec.ConnectionID), s.conf.TTL)
	pipe.ZAdd(ctx, s.userKey(rec.UserID), redis.Z{Score: float64(exp.Unix()), Member: rec.ConnectionID})
	pipe.Expire(ctx, s.userKey(rec.UserID), 2*s.conf.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "register conn=%s", rec.ConnectionID)
	}
	return nil
}

func (s *OnlineStore) Unregister(ctx context.Context, connID string) error {
	userID, err := s.rdb.HGet(ctx, s.connKey(connID), fieldUserID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "unregister lookup conn=%s", connID)
	}

	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, s.userKey(userID), connID)
	pipe.Del(ctx, s.connKey(connID))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "unregister conn=%s", connID)
	}
	return nil
}

func (s *OnlineStore) ConnectionsFor(ctx context.Context, userID string) ([]ConnRecord, error) {
	now := s.conf.Clock().Unix()
	ids, err := s.activeLua.Run(ctx, s.rdb, []string{s.userKey(userID)}, now).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(err, "connections for user=%s", userID)
	}
	if len(ids) == 0 {
		return []ConnRecord{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.connKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(err, "load connections user=%s", userID)
	}

	out := make([]ConnRecord, 0, len(ids))
	var stale []any
	for i, id := range ids {
		rec, ok := toRecord(id, cmds[i].Val())
		if !ok || rec.UserID != userID {
			stale = append(stale, id)
			continue
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		// index members whose connection hash already expired
		if err := s.rdb.ZRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			s.log.Warn("prune stale index members", zap.String("userId", userID), zap.Error(err))
		}
	}
	return out, nil
}

func (s *OnlineStore) Lookup(ctx context.Context, connID string) (ConnRecord, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.connKey(connID)).Result()
	if err != nil {
		return ConnRecord{}, false, errors.Wrapf(err, "lookup conn=%s", connID)
	}
	rec, ok := toRecord(connID, m)
	return rec, ok, nil
}

func (s *OnlineStore) Touch(ctx context.Context, connID string) error {
	userID, err := s.rdb.HGet(ctx, s.connKey(connID), fieldUserID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "touch lookup conn=%s", connID)
	}
	exp := s.conf.Clock().Add(s.conf.TTL)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.connKey(connID), fieldExpiresAt, exp.Unix())
	pipe.Expire(ctx, s.connKey(connID), s.conf.TTL)
	pipe.ZAddXX(ctx, s.userKey(userID), redis.Z{Score: float64(exp.Unix()), Member: connID})
	pipe.Expire(ctx, s.userKey(userID), 2*s.conf.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "touch conn=%s", connID)
	}
	return nil
}

func toRecord(connID string, m map[string]string) (ConnRecord, bool) {
	uid := m[fieldUserID]
	if uid == "" {
		return ConnRecord{}, false
	}
	connectedMs, _ := strconv.ParseInt(m[fieldConnectedAt], 10, 64)
	expUnix, _ := strconv.ParseInt(m[fieldExpiresAt], 10, 64)
	return ConnRecord{
		ConnectionID: connID,
		UserID:       uid,
		GatewayID:    m[fieldGatewayID],
		ConnectedAt:  time.UnixMilli(connectedMs),
		ExpiresAt:    time.Unix(expUnix, 0),
	}, true
}
