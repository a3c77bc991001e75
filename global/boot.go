package global

import (
	"context"

	"MeetChat/data/database/mgo/mongoutil"
	"MeetChat/data/database/pgutil"
	"MeetChat/global/config"
	"MeetChat/logger"
	chatservice "MeetChat/module/chat/service"
	"MeetChat/module/chat/store"
	"MeetChat/module/user"
	"MeetChat/service/kafka"
	"MeetChat/service/natsx"
	"MeetChat/service/storage"
	"MeetChat/service/storage/redis"
	"MeetChat/tools/security"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/Shopify/sarama"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Infra is every infrastructure client the process needs, built from AppConfig.
// Optional clients are nil when their section is not configured.
type Infra struct {
	Redis     goredis.UniversalClient
	NATS      *nats.Conn
	Producer  sarama.SyncProducer
	Stores    store.Stores
	Directory user.Directory
	Registry  storage.Registry
	Stamper   chatservice.Stamper
	Events    chatservice.EventSink
	Verifier  security.TokenVerifier

	closers []func(ctx context.Context) error
}

// Boot connects everything; on failure whatever was opened is closed again.
func Boot(ctx context.Context, cfg *config.AppConfig) (_ *Infra, err error) {
	in := &Infra{}
	defer func() {
		if err != nil {
			_ = in.Close(context.Background())
		}
	}()
	log := logger.L("boot")

	if err := in.bootStores(ctx, cfg); err != nil {
		return nil, err
	}

	needRedis := cfg.Registry.Driver == config.DriverRedis
	if needRedis {
		rdb, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		in.Redis = rdb
		in.closers = append(in.closers, func(context.Context) error { return rdb.Close() })
		in.Registry = storage.NewOnlineStore(rdb, storage.OnlineConfig{Prefix: cfg.Registry.Prefix, TTL: cfg.Registry.TTL})
		in.Stamper = storage.NewRoomStamper(rdb, cfg.Registry.Prefix)
		log.Info("redis registry ready", zap.Strings("addrs", cfg.Redis.Addrs))
	} else {
		in.Registry = storage.NewMemRegistry(cfg.Registry.TTL, nil)
		in.Stamper = chatservice.NewLocalStamper()
	}

	if len(cfg.NATS.Servers) > 0 {
		nc, err := natsx.Connect(cfg.NATS)
		if err != nil {
			return nil, err
		}
		in.NATS = nc
		in.closers = append(in.closers, func(context.Context) error { return nc.Drain() })
		log.Info("nats ready", zap.Strings("servers", cfg.NATS.Servers))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewSyncProducer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		in.Producer = p
		sink := kafka.NewMessageSink(p, cfg.Kafka.Topic)
		in.Events = sink
		in.closers = append(in.closers, func(context.Context) error { return sink.Close() })
	}

	verifier, err := in.newVerifier(ctx, cfg.Auth)
	if err != nil {
		return nil, err
	}
	in.Verifier = verifier
	return in, nil
}

func (in *Infra) bootStores(ctx context.Context, cfg *config.AppConfig) error {
	switch cfg.Storage.Driver {
	case config.DriverMongo:
		mcfg := cfg.Mongo
		cli, err := mongoutil.NewMongoDB(ctx, &mcfg)
		if err != nil {
			return err
		}
		in.closers = append(in.closers, cli.Close)
		ms := store.NewMongo(cli.GetDB())
		if err := ms.EnsureIndexes(ctx); err != nil {
			return err
		}
		in.Stores = ms.Stores(nil)
		in.Directory = user.NewMongoDirectory(cli.GetDB())
	case config.DriverPostgres:
		pcfg := cfg.Postgres
		pool, err := pgutil.NewPool(ctx, &pcfg)
		if err != nil {
			return err
		}
		in.closers = append(in.closers, func(context.Context) error { pool.Close(); return nil })
		ps := store.NewPostgres(pool)
		if err := ps.Migrate(ctx); err != nil {
			return err
		}
		dir := user.NewPostgresDirectory(pool)
		if err := dir.Migrate(ctx); err != nil {
			return err
		}
		in.Stores = ps.Stores()
		in.Directory = dir
	default:
		mem := store.NewMemory()
		in.Stores = mem.Stores()
		in.Directory = user.NewMemory()
	}
	return nil
}

func (in *Infra) newVerifier(ctx context.Context, a config.Auth) (security.TokenVerifier, error) {
	var keys keyfunc.Keyfunc
	if a.JWKSURL != "" {
		// refresh runs until Close, not until the boot context ends
		kctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		in.closers = append(in.closers, func(context.Context) error { cancel(); return nil })
		k, err := security.NewKeySet(kctx, a.JWKSURL)
		if err != nil {
			return nil, err
		}
		keys = k
	}
	v, err := security.NewVerifier(security.Options{
		Secret:   []byte(a.Secret),
		Alg:      a.Alg,
		Issuer:   a.Issuer,
		Audience: a.Audience,
		JWKSURL:  a.JWKSURL,
		Leeway:   a.Leeway,
	}, keys)
	if err != nil {
		return nil, errors.Wrap(err, "token verifier")
	}
	return v, nil
}

// Close releases clients in reverse order of creation.
func (in *Infra) Close(ctx context.Context) error {
	var first error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	in.closers = nil
	return first
}
