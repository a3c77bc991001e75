package natsx

import (
	"strings"
	"time"

	"MeetChat/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	Servers       []string      `yaml:"servers" envconfig:"SERVERS"`
	Name          string        `yaml:"name" envconfig:"NAME"`
	User          string        `yaml:"user" envconfig:"USER"`
	Password      string        `yaml:"password" envconfig:"PASSWORD"`
	ReconnectWait time.Duration `yaml:"reconnectWait" envconfig:"RECONNECT_WAIT"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

func (c *Config) norm() {
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
}

// Connect dials NATS with unlimited reconnects.
func Connect(cfg Config) (*nats.Conn, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	cfg.norm()
	log := logger.L("nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %v", cfg.Servers)
	}
	return nc, nil
}
