package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

type Config struct {
	Brokers           []string `yaml:"brokers" envconfig:"BROKERS"`
	Topic             string   `yaml:"topic" envconfig:"TOPIC"`
	Version           string   `yaml:"version" envconfig:"VERSION"`
	Partitions        int32    `yaml:"partitions" envconfig:"PARTITIONS"`
	ReplicationFactor int16    `yaml:"replicationFactor" envconfig:"REPLICATION_FACTOR"`
	Retries           int      `yaml:"retries" envconfig:"RETRIES"`
	Compression       string   `yaml:"compression" envconfig:"COMPRESSION"` // none/snappy/lz4/zstd
	EnsureTopic       bool     `yaml:"ensureTopic" envconfig:"ENSURE_TOPIC"`
}

func (c *Config) norm() {
	if c.Topic == "" {
		c.Topic = "chat.message.appended"
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.Retries <= 0 {
		c.Retries = 5
	}
}

// BuildConfig returns a sarama config for a keyed, acknowledged sync producer.
func BuildConfig(c Config) (*sarama.Config, error) {
	c.norm()
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "kafka version %q", c.Version)
		}
		cfg.Version = v
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.Retries
	// key = room id, so one room's events stay in one partition
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
