package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config is used to build the Redis client. More than one address builds a cluster client.
type Config struct {
	Addrs    []string `yaml:"addrs" envconfig:"ADDRS"`
	Password string   `yaml:"password" envconfig:"PASSWORD"`
	DB       int      `yaml:"db" envconfig:"DB"`
	PoolSize int      `yaml:"poolSize" envconfig:"POOL_SIZE"`
}

// NewClient builds the client and pings it within 3s.
func NewClient(ctx context.Context, c Config) (redis.UniversalClient, error) {
	if len(c.Addrs) == 0 {
		return nil, errors.New("redis addrs is empty")
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %v", c.Addrs)
	}
	return rdb, nil
}
