package config

import (
	"os"
	"time"

	"MeetChat/data/database/mgo/mongoutil"
	"MeetChat/data/database/pgutil"
	"MeetChat/service/kafka"
	"MeetChat/service/nacos"
	"MeetChat/service/natsx"
	"MeetChat/service/storage/redis"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type AppConfig struct {
	Server   Server           `yaml:"server" envconfig:"SERVER"`
	Gateway  Gateway          `yaml:"gateway" envconfig:"GATEWAY"`
	Registry Registry         `yaml:"registry" envconfig:"REGISTRY"`
	Storage  Storage          `yaml:"storage" envconfig:"STORAGE"`
	Redis    redis.Config     `yaml:"redis" envconfig:"REDIS"`
	Mongo    mongoutil.Config `yaml:"mongo" envconfig:"MONGO"`
	Postgres pgutil.Config    `yaml:"postgres" envconfig:"POSTGRES"`
	NATS     natsx.Config     `yaml:"nats" envconfig:"NATS"`
	Kafka    kafka.Config     `yaml:"kafka" envconfig:"KAFKA"`
	Auth     Auth             `yaml:"auth" envconfig:"AUTH"`
	Limits   Limits           `yaml:"limits" envconfig:"LIMITS"`
	Nacos    nacos.Config     `yaml:"nacos" envconfig:"NACOS"`
}

type Server struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	GrpcAddr        string        `yaml:"grpcAddr" envconfig:"GRPC_ADDR"` // grpc health endpoint, empty disables
	AllowedOrigins  []string      `yaml:"allowedOrigins" envconfig:"ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `yaml:"logLevel" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	AdvertiseIP     string        `yaml:"advertiseIp" envconfig:"ADVERTISE_IP"`
}

type Gateway struct {
	// ID names this process in connection records; defaults to the hostname.
	ID                string        `yaml:"id" envconfig:"ID"`
	NodeID            int64         `yaml:"nodeId" envconfig:"NODE_ID" validate:"min=0,max=1023"`
	SendQueue         int           `yaml:"sendQueue" envconfig:"SEND_QUEUE"`
	PingInterval      time.Duration `yaml:"pingInterval" envconfig:"PING_INTERVAL"`
	PongWait          time.Duration `yaml:"pongWait" envconfig:"PONG_WAIT"`
	PushTimeout       time.Duration `yaml:"pushTimeout" envconfig:"PUSH_TIMEOUT"`
	FanoutConcurrency int           `yaml:"fanoutConcurrency" envconfig:"FANOUT_CONCURRENCY"`
	RelayPrefix       string        `yaml:"relayPrefix" envconfig:"RELAY_PREFIX"`
}

type Registry struct {
	Driver string        `yaml:"driver" envconfig:"DRIVER" validate:"oneof=memory redis"`
	Prefix string        `yaml:"prefix" envconfig:"PREFIX"`
	TTL    time.Duration `yaml:"ttl" envconfig:"TTL"`
}

type Storage struct {
	Driver string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=memory mongo postgres"`
}

type Auth struct {
	Secret   string        `yaml:"secret" envconfig:"SECRET" validate:"required_without=JWKSURL"`
	Alg      string        `yaml:"alg" envconfig:"ALG" validate:"oneof=HS256 HS384 HS512"`
	Issuer   string        `yaml:"issuer" envconfig:"ISSUER"`
	Audience string        `yaml:"audience" envconfig:"AUDIENCE"`
	JWKSURL  string        `yaml:"jwksUrl" envconfig:"JWKS_URL" validate:"omitempty,url"`
	Leeway   time.Duration `yaml:"leeway" envconfig:"LEEWAY"`
}

type Limits struct {
	// MaxRoomsFree caps rooms per free-plan user; negative means unlimited.
	MaxRoomsFree int `yaml:"maxRoomsFree" envconfig:"MAX_ROOMS_FREE"`
	HistoryLimit int `yaml:"historyLimit" envconfig:"HISTORY_LIMIT" validate:"min=1,max=500"`
}

// Default is a single-node setup: in-memory registry and stores, no NATS, no Kafka.
func Default() *AppConfig {
	host, _ := os.Hostname()
	if host == "" {
		host = "gateway-1"
	}
	return &AppConfig{
		Server: Server{
			Addr:            ":8080",
			GrpcAddr:        ":50051",
			ShutdownTimeout: 10 * time.Second,
			LogLevel:        "info",
			AdvertiseIP:     "127.0.0.1",
		},
		Gateway: Gateway{
			ID:                host,
			NodeID:            1,
			SendQueue:         256,
			PingInterval:      25 * time.Second,
			PongWait:          60 * time.Second,
			PushTimeout:       5 * time.Second,
			FanoutConcurrency: 32,
			RelayPrefix:       "chat",
		},
		Registry: Registry{Driver: DriverMemory, Prefix: "chat", TTL: 24 * time.Hour},
		Storage:  Storage{Driver: DriverMemory},
		Redis:    redis.Config{Addrs: []string{"127.0.0.1:6379"}},
		Mongo:    mongoutil.Config{Uri: "mongodb://127.0.0.1:27017", Database: "meetchat", MaxPoolSize: 20, MaxRetry: 3},
		Postgres: pgutil.Config{MaxConns: 10, MaxRetry: 3},
		NATS:     natsx.Config{Name: "meetchat-gateway"},
		Kafka:    kafka.Config{Topic: "chat.message.appended"},
		Auth:     Auth{Alg: "HS256", Leeway: 30 * time.Second},
		Limits:   Limits{MaxRoomsFree: 3, HistoryLimit: 50},
		Nacos:    nacos.Config{Group: "DEFAULT_GROUP", DataID: "meetchat.yaml"},
	}
}
