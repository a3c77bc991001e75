package pgutil

import (
	"context"
	"time"

	"MeetChat/logger"
	"MeetChat/tools/errs"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	DSN      string `yaml:"dsn" envconfig:"DSN"`
	MaxConns int32  `yaml:"maxConns" envconfig:"MAX_CONNS"`
	MaxRetry int    `yaml:"maxRetry" envconfig:"MAX_RETRY"`
}

// NewPool opens a pgx pool and waits until the server answers a ping.
func NewPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errs.ErrValidation.WrapMsg("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errors.Wrap(err, "create postgres pool")
	}

	retries := cfg.MaxRetry
	if retries <= 0 {
		retries = 3
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	err = backoff.Retry(func() error {
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("postgres ping failed, retrying", zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx))
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return pool, nil
}

// IsUniqueViolation reports a 23505 error from the server.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
