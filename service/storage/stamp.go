package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] = room stamp key
// ARGV[1] = candidate ms, ARGV[2] = key ttl ms
const luaStamp = `
local last = tonumber(redis.call("GET", KEYS[1]) or "0")
local now  = tonumber(ARGV[1])
if now <= last then
  now = last + 1
end
redis.call("SET", KEYS[1], now, "PX", ARGV[2])
return now
`

// RoomStamper hands out strictly increasing millisecond stamps per room, shared by every
// gateway node so that two sends in the same millisecond never share a sequence key prefix.
type RoomStamper struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	script *redis.Script
}

func NewRoomStamper(rdb redis.UniversalClient, prefix string) *RoomStamper {
	if prefix == "" {
		prefix = "chat"
	}
	return &RoomStamper{
		rdb:    rdb,
		prefix: prefix,
		ttl:    time.Hour,
		script: redis.NewScript(luaStamp),
	}
}

func (s *RoomStamper) Stamp(ctx context.Context, roomID string, now time.Time) (int64, error) {
	key := s.prefix + ":stamp:{" + roomID + "}"
	v, err := s.script.Run(ctx, s.rdb, []string{key}, now.UnixMilli(), s.ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, errors.Wrapf(err, "stamp room=%s", roomID)
	}
	return v, nil
}
