package mongoutil

import (
	"context"
	"time"

	"MeetChat/logger"
	"MeetChat/tools/errs"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Config represents the MongoDB configuration.
type Config struct {
	Uri         string   `yaml:"uri" envconfig:"URI"`
	Address     []string `yaml:"address" envconfig:"ADDRESS"`
	Database    string   `yaml:"database" envconfig:"DATABASE"`
	Username    string   `yaml:"username" envconfig:"USERNAME"`
	Password    string   `yaml:"password" envconfig:"PASSWORD"`
	AuthSource  string   `yaml:"authSource" envconfig:"AUTH_SOURCE"`
	MaxPoolSize int      `yaml:"maxPoolSize" envconfig:"MAX_POOL_SIZE"`
	MaxRetry    int      `yaml:"maxRetry" envconfig:"MAX_RETRY"`
}

// validate checks the configuration and fills in defaults.
func (c *Config) validate() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.ErrValidation.WrapMsg("mongo uri or address is required")
	}
	if c.Database == "" {
		return errs.ErrValidation.WrapMsg("mongo database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.AuthSource == "" {
		c.AuthSource = "admin"
	}
	return nil
}

func applyConfigToOptions(cfg *Config) *options.ClientOptions {
	var opts *options.ClientOptions
	if cfg.Uri != "" {
		opts = options.Client().ApplyURI(cfg.Uri)
	} else {
		opts = options.Client().SetHosts(cfg.Address)
	}
	opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	opts.SetServerSelectionTimeout(5 * time.Second)
	opts.SetAppName("meetchat")

	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts
}

type Client struct {
	cli *mongo.Client
	db  *mongo.Database
}

func (c *Client) GetDB() *mongo.Database { return c.db }

func (c *Client) Close(ctx context.Context) error {
	return c.cli.Disconnect(ctx)
}

// NewMongoDB connects and pings, retrying retryable failures with exponential backoff.
func NewMongoDB(ctx context.Context, config *Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	opts := applyConfigToOptions(config)

	var cli *mongo.Client
	op := func() error {
		c, err := connectMongo(ctx, opts)
		if err != nil {
			if !shouldRetry(ctx, err) {
				return backoff.Permanent(err)
			}
			logger.Warn("mongo connect failed, retrying", zap.Error(err))
			return err
		}
		cli = c
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(config.MaxRetry)), ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MongoDB db=%s", config.Database)
	}
	return &Client{cli: cli, db: cli.Database(config.Database)}, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}
