package kafka

import (
	"MeetChat/logger"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NewSyncProducer connects to the brokers and, when asked, makes sure the event topic exists.
func NewSyncProducer(c Config) (sarama.SyncProducer, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	c.norm()
	cfg, err := BuildConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "kafka client %v", c.Brokers)
	}

	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "kafka admin")
		}
		if err := EnsureTopic(admin, c.Topic, c.Partitions, c.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "kafka sync producer")
	}
	logger.L("kafka").Info("producer ready", zap.Strings("brokers", c.Brokers), zap.String("topic", c.Topic))
	return p, nil
}
