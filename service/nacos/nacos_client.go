package nacos

import (
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
)

type Config struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Host      string `yaml:"host" envconfig:"HOST"`
	Port      uint64 `yaml:"port" envconfig:"PORT"`
	Namespace string `yaml:"namespace" envconfig:"NAMESPACE"`
	Group     string `yaml:"group" envconfig:"GROUP"`
	DataID    string `yaml:"dataId" envconfig:"DATA_ID"`
	Username  string `yaml:"username" envconfig:"USERNAME"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	TimeoutMs uint64 `yaml:"timeoutMs" envconfig:"TIMEOUT_MS"`
	// Service is the naming-service name gateways register under; empty disables registration.
	Service string `yaml:"service" envconfig:"SERVICE"`
}

func (c *Config) norm() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8848
	}
	if c.Namespace == "" {
		c.Namespace = "public"
	}
	if c.Group == "" {
		c.Group = "DEFAULT_GROUP"
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 5000
	}
}

func clientParam(c Config) vo.NacosClientParam {
	c.norm()
	return vo.NacosClientParam{
		ClientConfig: constant.NewClientConfig(
			constant.WithNamespaceId(c.Namespace),
			constant.WithTimeoutMs(c.TimeoutMs),
			constant.WithNotLoadCacheAtStart(true),
			constant.WithLogLevel("warn"),
			constant.WithCacheDir("nacos/cache"),
			constant.WithLogDir("nacos/log"),
			constant.WithUsername(c.Username),
			constant.WithPassword(c.Password),
		),
		ServerConfigs: []constant.ServerConfig{
			*constant.NewServerConfig(c.Host, c.Port),
		},
	}
}

func NewConfigClient(c Config) (config_client.IConfigClient, error) {
	cli, err := clients.NewConfigClient(clientParam(c))
	if err != nil {
		return nil, errors.Wrapf(err, "nacos config client %s:%d", c.Host, c.Port)
	}
	return cli, nil
}

func NewNamingClient(c Config) (naming_client.INamingClient, error) {
	cli, err := clients.NewNamingClient(clientParam(c))
	if err != nil {
		return nil, errors.Wrapf(err, "nacos naming client %s:%d", c.Host, c.Port)
	}
	return cli, nil
}
